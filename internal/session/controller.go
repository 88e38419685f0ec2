// Package session composes the transcript, the model probes and the chat stream into one session whose
// state a presentation layer reads and subscribes to.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/probe"
	"github.com/MegaGrindStone/stream-chat-ui/internal/stream"
	"github.com/MegaGrindStone/stream-chat-ui/internal/transcript"
)

var (
	// ErrValidation is returned by Submit when the message or the credential is blank.
	ErrValidation = errors.New("message and credential are required")
	// ErrInFlight is returned by Submit while a previous reply is still being sent or streamed.
	ErrInFlight = errors.New("a reply is already in flight")
	// ErrUnknownModel is returned by SetModel for a model outside the candidate list.
	ErrUnknownModel = errors.New("unknown model")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("session closed")
)

const (
	validationMessage = "Please enter a message and API key"

	hintNoCredential = "Please set your API key in settings to begin"
	hintReady        = "Start a conversation below!"
)

// Config holds the session's fixed settings.
type Config struct {
	// Candidates are the models probed for every credential, in preference order.
	Candidates       []string
	DefaultModel     string
	DeveloperMessage string
	ProbeTimeout     time.Duration
}

// Controller owns the transcript and the probe results of one session and runs the
// Idle → Sending → Streaming → Idle state machine. Every mutation is serialised, and subscribers receive a
// snapshot after each one, in mutation order.
type Controller struct {
	probes   *probe.Coordinator
	consumer stream.Consumer
	store    transcript.Store
	now      func() time.Time
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// credMu keeps the credential and the probe batch issued for it in step.
	credMu sync.Mutex

	mu          sync.Mutex
	version     uint64
	phase       models.Phase
	lastErr     string
	credential  string
	modelChoice string
	developer   string
	candidates  []string
	handle      *stream.Handle
	closed      bool
	subscribers []subscriber
	nextSubID   int

	// notifyMu is taken before mu is released so snapshots are delivered in the order they were taken.
	notifyMu sync.Mutex
}

type subscriber struct {
	id int
	fn func(models.SessionState)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates an idle Controller with an empty transcript. checker classifies candidate models and opener
// issues chat requests.
func New(checker probe.Checker, opener stream.Opener, cfg Config, logger *slog.Logger, opts ...Option) *Controller {
	candidates := slices.Clone(cfg.Candidates)
	if len(candidates) == 0 {
		candidates = slices.Clone(models.DefaultCandidates)
	}
	model := cfg.DefaultModel
	if model == "" {
		model = candidates[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		consumer:    stream.NewConsumer(opener, logger),
		now:         time.Now,
		logger:      logger.With(slog.String("module", "session")),
		ctx:         ctx,
		cancel:      cancel,
		phase:       models.PhaseIdle,
		modelChoice: model,
		developer:   cfg.DeveloperMessage,
		candidates:  candidates,
	}
	c.probes = probe.NewCoordinator(checker, logger,
		probe.WithTimeout(cfg.ProbeTimeout),
		probe.WithOnUpdate(c.probesChanged),
	)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit validates text against the current credential and, when both are non-blank, appends the developer
// and user entries and starts streaming the reply. The returned handle ends once the session is back to
// idle. A blank text or credential sets the session error and returns ErrValidation; a submission while a
// reply is in flight returns ErrInFlight and changes nothing.
func (c *Controller) Submit(text string) (*stream.Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.phase != models.PhaseIdle {
		c.mu.Unlock()
		return nil, ErrInFlight
	}
	if strings.TrimSpace(text) == "" || strings.TrimSpace(c.credential) == "" {
		c.lastErr = validationMessage
		c.publishAndUnlock()
		return nil, ErrValidation
	}

	now := c.now()
	c.store.Append(
		models.Message{
			ID:        c.store.NextID(),
			Role:      models.RoleDeveloper,
			Content:   c.developer,
			CreatedAt: now,
		},
		models.Message{
			ID:        c.store.NextID(),
			Role:      models.RoleUser,
			Content:   text,
			CreatedAt: now,
		},
	)

	req := stream.Request{
		Credential:       c.credential,
		Model:            c.selectedLocked(),
		DeveloperMessage: c.developer,
		UserMessage:      text,
	}
	c.phase = models.PhaseSending
	c.lastErr = ""
	c.handle = c.consumer.Consume(c.ctx, req, &reply{c: c})
	h := c.handle

	c.logger.Info("Message submitted", slog.String("model", req.Model), slog.Int("length", len(text)))
	c.publishAndUnlock()
	return h, nil
}

// SetCredential replaces the credential and restarts the model probes for it. Results of probes issued
// for the previous credential are discarded. Setting the current credential again does nothing.
func (c *Controller) SetCredential(credential string) {
	c.credMu.Lock()
	defer c.credMu.Unlock()

	c.mu.Lock()
	if c.closed || credential == c.credential {
		c.mu.Unlock()
		return
	}
	c.credential = credential
	candidates := slices.Clone(c.candidates)
	c.mu.Unlock()

	// ProbeAll publishes the new credential together with its reset result set.
	c.probes.ProbeAll(credential, candidates)
}

// SetModel sets the user's model choice. It is accepted at any time; a reply already in flight keeps the
// model it was requested with. The selected model stays derived: the choice while it is available,
// otherwise the first available candidate.
func (c *Controller) SetModel(model string) error {
	c.mu.Lock()
	if !slices.Contains(c.candidates, model) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	c.modelChoice = model
	c.publishAndUnlock()
	return nil
}

// SetDeveloperMessage sets the developer/system text sent with the following submissions.
func (c *Controller) SetDeveloperMessage(text string) {
	c.mu.Lock()
	c.developer = text
	c.publishAndUnlock()
}

// State returns a snapshot of the session.
func (c *Controller) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Subscribe registers fn to receive a snapshot after every change of the session. fn must not call any
// mutating Controller method. The returned function removes the subscription.
func (c *Controller) Subscribe(fn func(models.SessionState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.subscribers = slices.DeleteFunc(c.subscribers, func(s subscriber) bool { return s.id == id })
	}
}

// Close cancels the in-flight reply and probes and waits for them to finish. Partial content of a
// cancelled reply is kept.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	h := c.handle
	c.mu.Unlock()

	c.cancel()
	if h != nil {
		_ = h.Wait()
	}
	c.probes.Close()
}

func (c *Controller) probesChanged() {
	c.mu.Lock()
	c.publishAndUnlock()
}

// publishAndUnlock must be called with mu held. It bumps the version, snapshots the state, releases mu and
// delivers the snapshot to every subscriber.
func (c *Controller) publishAndUnlock() {
	c.version++
	state := c.stateLocked()
	subs := slices.Clone(c.subscribers)

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, s := range subs {
		s.fn(state)
	}
}

// resultsLocked returns the probe results of the current credential. Until its batch has started every
// candidate reads as untested.
func (c *Controller) resultsLocked() map[string]models.ProbeStatus {
	results, ok := c.probes.ResultsFor(c.credential)
	if !ok {
		return map[string]models.ProbeStatus{}
	}
	return results
}

func (c *Controller) selectedLocked() string {
	return probe.Effective(c.resultsLocked(), c.modelChoice, c.candidates)
}

func (c *Controller) stateLocked() models.SessionState {
	results := c.resultsLocked()
	status := make(map[string]models.ProbeStatus, len(c.candidates))
	for _, m := range c.candidates {
		s, ok := results[m]
		if !ok {
			s = models.ProbeUntested
		}
		status[m] = s
	}

	messages := c.store.Snapshot()
	hasCredential := strings.TrimSpace(c.credential) != ""

	var hint string
	if len(messages) == 0 {
		hint = hintReady
		if !hasCredential {
			hint = hintNoCredential
		}
	}

	return models.SessionState{
		Version:          c.version,
		Messages:         messages,
		Phase:            c.phase,
		Loading:          c.phase != models.PhaseIdle,
		Error:            c.lastErr,
		DeveloperMessage: c.developer,
		HasCredential:    hasCredential,
		Candidates:       slices.Clone(c.candidates),
		ModelStatus:      status,
		SelectedModel:    probe.Effective(results, c.modelChoice, c.candidates),
		Hint:             hint,
	}
}
