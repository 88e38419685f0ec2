package handlers

import (
	"errors"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/session"
)

type messageView struct {
	models.Message
	HTML string `json:"html"`
}

type sessionView struct {
	models.SessionState
	Messages []messageView `json:"messages"`
}

// view decorates state with the rendered HTML of every message. A message that fails to render is shown
// escaped as is.
func (m Main) view(state models.SessionState) sessionView {
	msgs := make([]messageView, len(state.Messages))
	for i, msg := range state.Messages {
		rendered, err := m.markdown.render(msg.Content)
		if err != nil {
			m.logger.Error("Failed to render message",
				slog.String("messageID", msg.ID),
				slog.String(errLoggerKey, err.Error()))
			rendered = "<pre>" + html.EscapeString(msg.Content) + "</pre>"
		}
		msgs[i] = messageView{Message: msg, HTML: rendered}
	}

	return sessionView{
		SessionState: state,
		Messages:     msgs,
	}
}

// HandleSession responds with the current snapshot of the session.
func (m Main) HandleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.view(m.session.State()))
}

// HandleMessages submits the "message" form field to the session. It answers 202 with the snapshot taken
// right after the submission, while the reply keeps streaming through the SSE stream. A blank message or a
// missing credential answers 400; a submission while a reply is in flight answers 409.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	_, err := m.session.Submit(r.FormValue("message"))
	switch {
	case errors.Is(err, session.ErrValidation):
		writeError(w, http.StatusBadRequest, m.session.State().Error)
		return
	case errors.Is(err, session.ErrInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, m.view(m.session.State()))
}

// HandleCredential sets the session credential from the "api_key" form field and restarts the model
// probes. An empty value clears the credential. The key is taken verbatim.
func (m Main) HandleCredential(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("api_key")
	m.logger.Debug("Credential updated", slog.Int("length", len(key)))

	m.session.SetCredential(key)
	w.WriteHeader(http.StatusNoContent)
}

// HandleModel sets the model choice from the "model" form field.
func (m Main) HandleModel(w http.ResponseWriter, r *http.Request) {
	if err := m.session.SetModel(r.FormValue("model")); err != nil {
		if errors.Is(err, session.ErrUnknownModel) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeveloper sets the developer message from the "developer_message" form field.
func (m Main) HandleDeveloper(w http.ResponseWriter, r *http.Request) {
	m.session.SetDeveloperMessage(r.FormValue("developer_message"))
	w.WriteHeader(http.StatusNoContent)
}

// HandleAvailableModels lists the chat models the "api_key" form field can use.
func (m Main) HandleAvailableModels(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.FormValue("api_key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	list, err := m.lister.AvailableModels(r.Context(), key)
	if err != nil {
		m.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
		writeJSON(w, http.StatusOK, models.AvailableModelsResponse{AvailableModels: []string{}, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models.AvailableModelsResponse{AvailableModels: list})
}
