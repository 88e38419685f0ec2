package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/stream"
	"github.com/go-chi/chi/v5"
	"github.com/tmaxmax/go-sse"
)

// Session represents the single chat session the presentation layer drives. Submit starts streaming a reply
// for text, the setters adjust what the following submissions are sent with, and Subscribe delivers a new
// snapshot after every change.
type Session interface {
	Submit(text string) (*stream.Handle, error)
	SetCredential(credential string)
	SetModel(model string) error
	SetDeveloperMessage(text string)
	State() models.SessionState
	Subscribe(fn func(models.SessionState)) func()
}

// ModelLister lists the chat models a credential can use.
type ModelLister interface {
	AvailableModels(ctx context.Context, credential string) ([]string, error)
}

// Main bridges the session to HTTP clients. It serves snapshots of the session on request and pushes
// every new snapshot to the connected clients through server-sent events.
type Main struct {
	sseSrv   *sse.Server
	markdown markdown

	session Session
	lister  ModelLister

	unsubscribe func()

	logger *slog.Logger
}

const (
	sessionSSETopic = "session"

	errLoggerKey = "err"
)

var sessionSSEType = sse.Type("session")

// NewMain creates a new Main instance bridging session, and subscribes it to the session's snapshots. The
// SSE server is configured so every client first receives the current snapshot and then joins both the
// default topic and the session topic.
func NewMain(session Session, lister ModelLister, logger *slog.Logger) Main {
	m := Main{
		markdown: newMarkdown(),
		session:  session,
		lister:   lister,
		logger:   logger.With(slog.String("module", "main")),
	}
	m.sseSrv = &sse.Server{OnSession: m.onSSESession}
	m.unsubscribe = session.Subscribe(m.publishState)

	return m
}

// Routes registers the session routes on r.
func (m Main) Routes(r chi.Router) {
	r.Get("/session", m.HandleSession)
	r.Post("/session/messages", m.HandleMessages)
	r.Post("/session/credential", m.HandleCredential)
	r.Post("/session/model", m.HandleModel)
	r.Post("/session/developer", m.HandleDeveloper)
	r.Post("/session/available-models", m.HandleAvailableModels)
	r.Get("/sse/session", m.HandleSSE)
}

// HandleSSE serves the server-sent events stream of session snapshots.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) onSSESession(s *sse.Session) (sse.Subscription, bool) {
	// Clients see nothing until the first event, so the current snapshot goes out at connect time.
	msg, err := m.stateMessage(m.session.State())
	if err != nil {
		m.logger.Error("Failed to marshal session state", slog.String(errLoggerKey, err.Error()))
		http.Error(s.Res, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return sse.Subscription{}, false
	}
	if err := s.Send(msg); err != nil {
		m.logger.Warn("Failed to send initial session state", slog.String(errLoggerKey, err.Error()))
		return sse.Subscription{}, false
	}
	if err := s.Flush(); err != nil {
		m.logger.Warn("Failed to flush initial session state", slog.String(errLoggerKey, err.Error()))
		return sse.Subscription{}, false
	}

	return sse.Subscription{
		Client:      s,
		LastEventID: s.LastEventID,
		Topics:      []string{sse.DefaultTopic, sessionSSETopic},
	}, true
}

func (m Main) stateMessage(state models.SessionState) (*sse.Message, error) {
	data, err := json.Marshal(m.view(state))
	if err != nil {
		return nil, err
	}

	msg := &sse.Message{
		ID:   sse.ID(strconv.FormatUint(state.Version, 10)),
		Type: sessionSSEType,
	}
	msg.AppendData(string(data))
	return msg, nil
}

func (m Main) publishState(state models.SessionState) {
	msg, err := m.stateMessage(state)
	if err != nil {
		m.logger.Error("Failed to marshal session state", slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.sseSrv.Publish(msg, sessionSSETopic); err != nil {
		m.logger.Error("Failed to publish session state",
			slog.Uint64("version", state.Version),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the Main instance's SSE server. It stops listening to the session,
// broadcasts a close message to all connected clients and waits up to 5 seconds for connections to
// terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.unsubscribe()

	e := &sse.Message{Type: sse.Type("closeSession")}
	// SSE requires data on every event
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
