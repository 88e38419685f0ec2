// Package stream consumes the incremental reply of the streaming chat endpoint and feeds the decoded
// fragments, in arrival order, into a transcript entry.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Request describes one chat request.
type Request struct {
	Credential       string
	Model            string
	DeveloperMessage string
	UserMessage      string
}

// Opener issues a chat request and returns the incremental response body. A non-success answer of the
// remote API must be reported as an error.
type Opener interface {
	OpenChat(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Sink receives the lifecycle of one consumed stream.
type Sink interface {
	// Opened is called once the response channel is open and before the first fragment. It returns the id
	// of the entry fragments are appended to.
	Opened() string
	// Append appends fragment to the content of the entry identified by id.
	Append(id, fragment string) error
	// Closed is called exactly once, when consumption ends. err is nil at end of data.
	Closed(err error)
}

// Consumer opens chat streams and pumps them into a Sink.
type Consumer struct {
	opener Opener
	logger *slog.Logger
}

// Handle controls one running consumption. It is not restartable.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewConsumer creates a Consumer that opens requests with opener.
func NewConsumer(opener Opener, logger *slog.Logger) Consumer {
	return Consumer{
		opener: opener,
		logger: logger.With(slog.String("module", "stream")),
	}
}

// Consume opens req and starts pumping its fragments into sink in a new goroutine. Fragments are applied
// strictly in the order they are read. When the stream errors or is cancelled, fragments already applied
// stay applied and sink.Closed receives the error; nothing is retried.
func (c Consumer) Consume(ctx context.Context, req Request, sink Sink) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer cancel()

		h.err = c.run(ctx, req, sink)
		sink.Closed(h.err)
	}()

	return h
}

func (c Consumer) run(ctx context.Context, req Request, sink Sink) error {
	body, err := c.opener.OpenChat(ctx, req)
	if err != nil {
		return fmt.Errorf("error opening chat stream: %w", err)
	}

	r := NewReader(body)
	defer r.Close()

	id := sink.Opened()
	c.logger.Debug("Stream opened", slog.String("messageID", id), slog.String("model", req.Model))

	fragments := 0
	for text, err := range r.All() {
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("stream cancelled: %w", ctx.Err())
			}
			c.logger.Debug("Stream failed", slog.String("messageID", id), slog.Int("fragments", fragments))
			return err
		}
		if err := sink.Append(id, text); err != nil {
			return fmt.Errorf("error applying fragment: %w", err)
		}
		fragments++
	}

	c.logger.Debug("Stream ended", slog.String("messageID", id), slog.Int("fragments", fragments))
	return nil
}

// Cancel stops the consumption. Content already appended is kept.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed once the sink has been told the stream is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the error the consumption ended with. It is nil while Done is open and at end of data.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the consumption ends and returns its error, nil at end of data.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}
