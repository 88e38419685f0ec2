package handlers

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/go-chi/chi/v5"
)

// Provider represents the upstream language model API behind the chat API. Every call carries the caller's
// own API key.
type Provider interface {
	ChatStream(ctx context.Context, req models.ChatRequest) iter.Seq2[string, error]
	TestModel(ctx context.Context, apiKey, model string) error
	ListModels(ctx context.Context, apiKey string) ([]string, error)
}

// API serves the chat API: a streaming chat endpoint, model probing and model listing, all authenticated
// by the API key in the request body.
type API struct {
	provider Provider

	logger *slog.Logger
}

// chatModelKeywords selects the listed models that serve chat completions.
var chatModelKeywords = []string{"gpt", "davinci", "curie", "babbage", "ada"}

// modelRanks orders listed models; the first matching fragment gives the rank, and models matching none
// come last.
var modelRanks = []string{"gpt-4.1-nano", "gpt-4.1-mini", "gpt-4.1", "gpt-4o", "gpt-4", "gpt-3.5", "davinci"}

// NewAPI creates a new API backed by provider.
func NewAPI(provider Provider, logger *slog.Logger) API {
	return API{
		provider: provider,
		logger:   logger.With(slog.String("module", "api")),
	}
}

// Routes registers the API under /api on r. Every API route allows any origin.
func (a API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(allowAnyOrigin)

		r.Post("/chat", a.HandleChat)
		r.Post("/test-model", a.HandleTestModel)
		r.Post("/available-models", a.HandleAvailableModels)
		r.Post("/debug-key", a.HandleDebugKey)
		r.Get("/health", a.HandleHealth)
	})
}

// allowAnyOrigin sets permissive CORS headers and answers preflight requests itself.
func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleChat streams the reply to a models.ChatRequest as plain text, flushing every fragment as soon as
// the provider yields it. A failure before the first fragment answers 500 with the reason. A failure after
// it aborts the connection, so the client sees the body end abruptly instead of a clean end of data.
func (a API) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" || req.UserMessage == "" {
		writeError(w, http.StatusBadRequest, "api_key and user_message are required")
		return
	}
	if req.DeveloperMessage == "" {
		req.DeveloperMessage = models.DefaultDeveloperMessage
	}
	if req.Model == "" {
		req.Model = models.DefaultModel
	}

	next, stop := iter.Pull2(a.provider.ChatStream(r.Context(), req))
	defer stop()

	text, err, ok := next()
	if ok && err != nil {
		a.logger.Error("Failed to open chat stream",
			slog.String("model", req.Model),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	fragments := 0
	for ok {
		if err != nil {
			a.logger.Error("Chat stream failed",
				slog.String("model", req.Model),
				slog.Int("fragments", fragments),
				slog.String(errLoggerKey, err.Error()))
			panic(http.ErrAbortHandler)
		}

		if _, err := io.WriteString(w, text); err != nil {
			a.logger.Debug("Client went away", slog.String(errLoggerKey, err.Error()))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		fragments++

		text, err, ok = next()
	}

	a.logger.Debug("Chat stream ended", slog.String("model", req.Model), slog.Int("fragments", fragments))
}

// HandleTestModel reports whether the key can use the model by issuing the smallest possible completion.
// A rejected model is a successful answer with available set to false.
func (a API) HandleTestModel(w http.ResponseWriter, r *http.Request) {
	var req models.TestModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "api_key and model are required")
		return
	}

	if err := a.provider.TestModel(r.Context(), req.APIKey, req.Model); err != nil {
		writeJSON(w, http.StatusOK, models.TestModelResponse{Available: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models.TestModelResponse{Available: true})
}

// HandleAvailableModels lists the chat models of the key, best first. A listing failure is reported in the
// body next to an empty list.
func (a API) HandleAvailableModels(w http.ResponseWriter, r *http.Request) {
	var req models.AvailableModelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	a.logger.Debug("Listing models", slog.Int("keyLength", len(req.APIKey)))

	ids, err := a.provider.ListModels(r.Context(), req.APIKey)
	if err != nil {
		a.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusOK, models.AvailableModelsResponse{AvailableModels: []string{}, Error: err.Error()})
		return
	}

	chat := rankModels(ids)
	a.logger.Debug("Found models", slog.Int("count", len(chat)))

	writeJSON(w, http.StatusOK, models.AvailableModelsResponse{AvailableModels: chat})
}

// rankModels keeps the chat models of ids and sorts them by modelRanks. Models of equal rank keep their
// listing order.
func rankModels(ids []string) []string {
	chat := make([]string, 0, len(ids))
	for _, id := range ids {
		lower := strings.ToLower(id)
		if slices.ContainsFunc(chatModelKeywords, func(k string) bool { return strings.Contains(lower, k) }) {
			chat = append(chat, id)
		}
	}

	slices.SortStableFunc(chat, func(a, b string) int {
		return modelRank(a) - modelRank(b)
	})
	return chat
}

func modelRank(id string) int {
	for i, fragment := range modelRanks {
		if strings.Contains(id, fragment) {
			return i
		}
	}
	return len(modelRanks)
}

// HandleDebugKey describes the shape of the posted key.
func (a API) HandleDebugKey(w http.ResponseWriter, r *http.Request) {
	var req models.AvailableModelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, keyDiagnostics(req.APIKey))
}

// keyDiagnostics measures and cuts key by characters, not bytes.
func keyDiagnostics(key string) models.KeyDiagnostics {
	runes := []rune(key)
	d := models.KeyDiagnostics{
		Length:        len(runes),
		StartsWith:    key,
		EndsWith:      key,
		HasWhitespace: strings.ContainsFunc(key, unicode.IsSpace),
		Quoted:        strconv.Quote(key),
	}
	if len(runes) > 10 {
		d.StartsWith = string(runes[:10])
		d.EndsWith = string(runes[len(runes)-10:])
	}
	return d
}

// HandleHealth reports that the API is up.
func (a API) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
