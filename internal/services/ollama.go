package services

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the chat provider backed by an Ollama server. Ollama has no notion
// of API keys, so the key of every request is accepted as is and ignored.
type Ollama struct {
	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL. The host parameter should be a
// valid URL pointing to an Ollama server.
func NewOllama(host string) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("error parsing ollama host: %w", err)
	}

	return Ollama{
		client: api.NewClient(u, &http.Client{}),
	}, nil
}

// ChatStream streams the reply of req's model, yielding every non-empty message chunk as it arrives. The
// developer message is sent with the system role.
func (o Ollama) ChatStream(ctx context.Context, req models.ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		t := true
		chatReq := api.ChatRequest{
			Model: req.Model,
			Messages: []api.Message{
				{
					Role:    "system",
					Content: req.DeveloperMessage,
				},
				{
					Role:    string(models.RoleUser),
					Content: req.UserMessage,
				},
			},
			Stream: &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &chatReq, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}

// TestModel asks model for a single token.
func (o Ollama) TestModel(ctx context.Context, _, model string) error {
	f := false
	req := api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    string(models.RoleUser),
				Content: "Hi",
			},
		},
		Stream:  &f,
		Options: map[string]any{"num_predict": 1},
	}

	if err := o.client.Chat(ctx, &req, func(api.ChatResponse) error { return nil }); err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	return nil
}

// ListModels returns the names of the models pulled on the server.
func (o Ollama) ListModels(ctx context.Context, _ string) ([]string, error) {
	res, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	names := make([]string, len(res.Models))
	for i, m := range res.Models {
		names[i] = m.Name
	}
	return names, nil
}
