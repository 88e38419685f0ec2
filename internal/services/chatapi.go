package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/stream"
)

// ChatAPI is the client of the chat API served by handlers.API. It opens reply streams for the session
// and classifies candidate models for the probe coordinator.
type ChatAPI struct {
	baseURL string
	client  *http.Client

	logger *slog.Logger
}

// APIError is returned for every non-success answer of the chat API.
type APIError struct {
	StatusCode int
	Message    string
}

// ErrUnavailable is wrapped by CheckModel when the API reports the model as unusable.
var ErrUnavailable = errors.New("model unavailable")

const errLoggerKey = "err"

// NewChatAPI creates a client of the chat API at baseURL. A nil client means http.DefaultClient. The
// client must not set an overall timeout, as reply streams stay open for as long as the model writes.
func NewChatAPI(baseURL string, client *http.Client, logger *slog.Logger) ChatAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return ChatAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("module", "chatapi")),
	}
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Message)
}

// OpenChat posts req to the chat endpoint and returns the incremental text body. Closing the body, or
// cancelling ctx, stops the reply.
func (c ChatAPI) OpenChat(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	res, err := c.post(ctx, "/api/chat", models.ChatRequest{
		DeveloperMessage: req.DeveloperMessage,
		UserMessage:      req.UserMessage,
		Model:            req.Model,
		APIKey:           req.Credential,
	})
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// CheckModel reports whether credential may use model. A model the API reports as unusable returns false
// with an error wrapping ErrUnavailable and the API's reason.
func (c ChatAPI) CheckModel(ctx context.Context, credential, model string) (bool, error) {
	var out models.TestModelResponse
	if err := c.postJSON(ctx, "/api/test-model", models.TestModelRequest{
		APIKey: credential,
		Model:  model,
	}, &out); err != nil {
		return false, err
	}
	if !out.Available {
		return false, fmt.Errorf("%w: %s", ErrUnavailable, out.Error)
	}
	return true, nil
}

// AvailableModels lists the chat models credential can use, in display priority.
func (c ChatAPI) AvailableModels(ctx context.Context, credential string) ([]string, error) {
	var out models.AvailableModelsResponse
	if err := c.postJSON(ctx, "/api/available-models", models.AvailableModelsRequest{
		APIKey: credential,
	}, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("error listing models: %s", out.Error)
	}
	return out.AvailableModels, nil
}

func (c ChatAPI) postJSON(ctx context.Context, path string, body, out any) error {
	res, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

// post sends body as JSON. Any non-2xx answer is drained and returned as *APIError.
func (c ChatAPI) post(ctx context.Context, path string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		apiErr := &APIError{StatusCode: res.StatusCode, Message: errorDetail(res.Body)}
		c.logger.Debug("Request failed", slog.String("path", path), slog.String(errLoggerKey, apiErr.Error()))
		return nil, apiErr
	}

	return res, nil
}

// errorDetail extracts the message of a failed response. It understands {"error": ...} and
// {"detail": ...} bodies and falls back to the raw text.
func errorDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}

	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(b, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(b))
}
