// Package probe fans out availability checks of candidate models for a credential and keeps the per-model
// results for the credential currently in effect.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"golang.org/x/sync/errgroup"
)

const errLoggerKey = "err"

// Checker classifies one model for one credential. It reports true when the remote API accepted a minimal
// request for the model. Any error is treated as unavailable.
type Checker interface {
	CheckModel(ctx context.Context, credential, model string) (bool, error)
}

// Coordinator launches one independent probe per candidate whenever ProbeAll is called and records each
// result as it resolves. Each batch is tagged with a generation and the credential it was issued for; a
// resolution whose tag no longer matches the current batch is dropped.
type Coordinator struct {
	checker  Checker
	timeout  time.Duration
	onUpdate func()
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	credential string
	candidates []string
	results    map[string]models.ProbeStatus
	cancel     context.CancelFunc
	group      *errgroup.Group
	closed     bool

	// running tracks probe goroutines of every batch, including superseded ones.
	running sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds every single probe request. Zero means no bound besides batch cancellation.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithOnUpdate registers fn to be called after every change of the result set. fn is called without any
// Coordinator lock held, so it may read ResultsFor.
func WithOnUpdate(fn func()) Option {
	return func(c *Coordinator) { c.onUpdate = fn }
}

// NewCoordinator creates a Coordinator that classifies models with checker.
func NewCoordinator(checker Checker, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		checker: checker,
		results: map[string]models.ProbeStatus{},
		logger:  logger.With(slog.String("module", "probe")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProbeAll discards the current result set and starts a new batch for credential. Every candidate is marked
// checking before ProbeAll returns and then resolves on its own. A blank credential launches nothing and
// resets every candidate to untested. In-flight probes of the previous batch are cancelled and their late
// results ignored.
func (c *Coordinator) ProbeAll(credential string, candidates []string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	gen := c.generation
	c.credential = credential
	c.candidates = dedupe(candidates)
	c.results = make(map[string]models.ProbeStatus, len(c.candidates))

	if strings.TrimSpace(credential) == "" {
		for _, m := range c.candidates {
			c.results[m] = models.ProbeUntested
		}
		c.group = nil
		c.mu.Unlock()

		c.logger.Debug("Credential cleared, probes reset", slog.Uint64("generation", gen))
		c.notify()
		return
	}

	for _, m := range c.candidates {
		c.results[m] = models.ProbeChecking
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g := &errgroup.Group{}
	c.group = g
	for _, m := range c.candidates {
		c.running.Add(1)
		g.Go(func() error {
			defer c.running.Done()
			c.probe(ctx, gen, credential, m)
			return nil
		})
	}
	count := len(c.candidates)
	c.mu.Unlock()

	c.logger.Debug("Probe batch started",
		slog.Uint64("generation", gen),
		slog.Int("candidates", count),
		slog.Int("credentialLength", len(credential)))
	c.notify()
}

func (c *Coordinator) probe(ctx context.Context, gen uint64, credential, model string) {
	status := models.ProbeUnavailable
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Probe panicked", slog.String("model", model), slog.String("panic", fmt.Sprint(r)))
			status = models.ProbeUnavailable
		}
		applied, settled, available := c.apply(gen, credential, model, status)
		if !applied {
			c.logger.Debug("Stale probe result discarded",
				slog.String("model", model),
				slog.Uint64("generation", gen))
			return
		}
		if settled {
			c.logger.Info("Probe batch settled",
				slog.Uint64("generation", gen),
				slog.Int("available", available))
		}
		c.notify()
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ok, err := c.checker.CheckModel(ctx, credential, model)
	if err != nil {
		c.logger.Debug("Probe failed", slog.String("model", model), slog.String(errLoggerKey, err.Error()))
		return
	}
	if ok {
		status = models.ProbeAvailable
	}
}

// apply records status when the resolution still belongs to the current batch. settled reports whether this
// resolution was the last pending one of the batch.
func (c *Coordinator) apply(gen uint64, credential, model string, status models.ProbeStatus) (applied, settled bool, available int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || credential != c.credential {
		return false, false, 0
	}
	if c.results[model] != models.ProbeChecking {
		return false, false, 0
	}
	c.results[model] = status

	settled = true
	for _, s := range c.results {
		if !s.Resolved() {
			settled = false
		}
		if s == models.ProbeAvailable {
			available++
		}
	}
	return true, settled, available
}

func (c *Coordinator) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}

// ResultsFor returns a copy of the result set when the current batch was issued for credential. ok is false
// when the current batch belongs to another credential.
func (c *Coordinator) ResultsFor(credential string) (results map[string]models.ProbeStatus, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credential != credential {
		return nil, false
	}
	return maps.Clone(c.results), true
}

// Wait blocks until every probe of the current batch has resolved or been cancelled.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	g := c.group
	c.mu.Unlock()

	if g != nil {
		_ = g.Wait()
	}
}

// Close cancels the in-flight batch and waits for every probe goroutine, superseded ones included, to
// return. ProbeAll is a no-op after Close.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.running.Wait()
}

func dedupe(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, m := range candidates {
		if m == "" || slices.Contains(out, m) {
			continue
		}
		out = append(out, m)
	}
	return out
}
