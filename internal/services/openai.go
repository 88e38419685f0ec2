package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the chat provider for OpenAI compatible APIs. The API key is not
// part of the provider: every call carries the caller's key, so one OpenAI value serves every credential.
type OpenAI struct {
	baseURL    string
	httpClient *http.Client

	logger *slog.Logger
}

// OpenAIOption configures an OpenAI provider.
type OpenAIOption func(*OpenAI)

// WithOpenAIBaseURL points the provider at another OpenAI compatible endpoint.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(o *OpenAI) { o.baseURL = baseURL }
}

// WithOpenAIHTTPClient sets the HTTP client used for every request.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) { o.httpClient = client }
}

// NewOpenAI creates a new OpenAI provider.
func NewOpenAI(logger *slog.Logger, opts ...OpenAIOption) OpenAI {
	o := OpenAI{
		logger: logger.With(slog.String("module", "openai")),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o OpenAI) client(apiKey string) *goopenai.Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	return goopenai.NewClientWithConfig(cfg)
}

// ChatStream sends the developer and user message of req as a streaming chat completion and yields the
// content deltas in the order they arrive. An error is yielded at most once, and ends the sequence.
func (o OpenAI) ChatStream(ctx context.Context, req models.ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client(req.APIKey).CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
			Model: req.Model,
			Messages: []goopenai.ChatCompletionMessage{
				{
					Role:    string(models.RoleDeveloper),
					Content: req.DeveloperMessage,
				},
				{
					Role:    goopenai.ChatMessageRoleUser,
					Content: req.UserMessage,
				},
			},
			Stream: true,
		})
		if err != nil {
			yield("", fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			content := response.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !yield(content, nil) {
				return
			}
		}
	}
}

// TestModel issues the smallest possible completion for model and returns the provider's error when the
// key cannot use it.
func (o OpenAI) TestModel(ctx context.Context, apiKey, model string) error {
	_, err := o.client(apiKey).CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: "Hi",
			},
		},
		MaxTokens: 1,
	})
	if err != nil {
		o.logger.Debug("Model test failed", slog.String("model", model), slog.String(errLoggerKey, err.Error()))
		return fmt.Errorf("error sending request: %w", err)
	}
	return nil
}

// ListModels returns the ids of every model the key can see, in the provider's order.
func (o OpenAI) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	list, err := o.client(apiKey).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	return ids, nil
}
