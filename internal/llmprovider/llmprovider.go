// Package llmprovider implements the LLMProvider capability: a single
// completion method backed by one of three concrete shapes — an
// OpenAI-compatible chat-completions endpoint (also covering Azure
// deployment URLs and local OpenAI-compatible servers), and the Anthropic
// messages endpoint. Providers are selected by a tagged-variant client
// factory chosen at startup.
package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"pr-review-automation/internal/apperrors"
)

// Request is a single completion request against a chat-style LLM.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// Response is the raw text result of a completion, before any JSON
// extraction or schema validation.
type Response struct {
	Text       string
	Model      string
	TokensUsed int
}

// Provider is the capability every LLM backend implements.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// tokenLimitErrorKeywords are vendor error-message substrings that signal
// a context-window overflow rather than a generic transient failure.
var tokenLimitErrorKeywords = []string{
	"maximum context length", "context_length_exceeded", "too many tokens",
	"request too large", "exceeds the model's maximum",
}

// IsTokenLimitError reports whether err's message matches a known
// vendor token-limit phrase. Matching literal vendor error text is the one
// place this codebase departs from typed-error handling, because the
// vendors themselves don't expose a typed token-limit error.
func IsTokenLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range tokenLimitErrorKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func wrapUpstreamError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.NewRetryable(err)
}

// ----- OpenAI-compatible (OpenAI, Azure deployment URL, local server) -----

// OpenAICompatible talks to any chat-completions endpoint compatible with
// OpenAI's wire format: openai.com itself, an Azure OpenAI deployment URL,
// or a local OpenAI-compatible inference server.
type OpenAICompatible struct {
	client openai.Client
	model  string
	name   string
}

// NewOpenAICompatible builds a provider against baseURL (empty for
// api.openai.com) using apiKey and model.
func NewOpenAICompatible(name, apiKey, baseURL, model string) *OpenAICompatible {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompatible{client: openai.NewClient(opts...), model: model, name: name}
}

func (p *OpenAICompatible) Name() string { return p.name }

func (p *OpenAICompatible) Complete(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, wrapUpstreamError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, errors.New("empty completion response")
	}

	return Response{
		Text:       completion.Choices[0].Message.Content,
		Model:      completion.Model,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

// ----- Anthropic -----

// Anthropic talks to the Anthropic messages endpoint.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds a provider against api.anthropic.com (or baseURL,
// when set) using apiKey and model.
func NewAnthropic(apiKey, baseURL, model string) *Anthropic {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(baseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: model}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	})
	if err != nil {
		return Response{}, wrapUpstreamError(err)
	}
	if len(message.Content) == 0 {
		return Response{}, errors.New("empty completion response")
	}

	var text strings.Builder
	for _, block := range message.Content {
		text.WriteString(block.Text)
	}

	return Response{
		Text:       text.String(),
		Model:      string(message.Model),
		TokensUsed: int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}, nil
}

// New builds a Provider for the given tagged provider name ("openai",
// "azure", "local", "anthropic"). The set of providers is closed and known
// at startup; there is no dynamic registration.
func New(providerName, apiKey, baseURL, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai", "azure", "local":
		return NewOpenAICompatible(providerName, apiKey, baseURL, model), nil
	case "anthropic":
		return NewAnthropic(apiKey, baseURL, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", providerName)
	}
}
