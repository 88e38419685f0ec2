package stream_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/MegaGrindStone/stream-chat-ui/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOpener struct {
	body io.ReadCloser
	err  error
	got  stream.Request

	// open, when set, is used instead of body and err.
	open func(ctx context.Context) (io.ReadCloser, error)
}

func (m *mockOpener) OpenChat(ctx context.Context, req stream.Request) (io.ReadCloser, error) {
	m.got = req
	if m.open != nil {
		return m.open(ctx)
	}
	return m.body, m.err
}

type recordingSink struct {
	mu        sync.Mutex
	opened    int
	content   strings.Builder
	fragments []string
	closed    int
	closeErr  error
	appendErr error
}

func (s *recordingSink) Opened() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return "assistant-1"
}

func (s *recordingSink) Append(id, fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "assistant-1" {
		return errors.New("unexpected id " + id)
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.fragments = append(s.fragments, fragment)
	s.content.WriteString(fragment)
	return nil
}

func (s *recordingSink) Closed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	s.closeErr = err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumeAppendsFragmentsInOrder(t *testing.T) {
	opener := &mockOpener{body: &chunkedBody{chunks: bytesChunks("Hel", "lo!")}}
	sink := &recordingSink{}
	req := stream.Request{
		Credential:       "key",
		Model:            "gpt-4.1-nano",
		DeveloperMessage: "You are helpful.",
		UserMessage:      "Hi",
	}

	h := stream.NewConsumer(opener, discardLogger()).Consume(context.Background(), req, sink)
	require.NoError(t, h.Wait())

	assert.Equal(t, req, opener.got)
	assert.Equal(t, 1, sink.opened)
	assert.Equal(t, []string{"Hel", "lo!"}, sink.fragments)
	assert.Equal(t, "Hello!", sink.content.String())
	assert.Equal(t, 1, sink.closed)
	assert.NoError(t, sink.closeErr)
}

func TestConsumeOpenErrorSkipsPlaceholder(t *testing.T) {
	opener := &mockOpener{err: errors.New("status 401")}
	sink := &recordingSink{}

	h := stream.NewConsumer(opener, discardLogger()).Consume(context.Background(), stream.Request{}, sink)
	err := h.Wait()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Equal(t, 0, sink.opened)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, err, sink.closeErr)
}

func TestConsumeMidStreamErrorKeepsPartialContent(t *testing.T) {
	body := &chunkedBody{chunks: bytesChunks("Par"), err: io.ErrUnexpectedEOF}
	sink := &recordingSink{}

	h := stream.NewConsumer(&mockOpener{body: body}, discardLogger()).
		Consume(context.Background(), stream.Request{}, sink)

	require.ErrorIs(t, h.Wait(), io.ErrUnexpectedEOF)
	assert.ErrorIs(t, h.Err(), io.ErrUnexpectedEOF)
	assert.Equal(t, "Par", sink.content.String())
	assert.Equal(t, 1, sink.closed)
	assert.True(t, body.closed)
}

func TestConsumeAppendErrorStops(t *testing.T) {
	sink := &recordingSink{appendErr: errors.New("entry gone")}
	body := &chunkedBody{chunks: bytesChunks("a", "b")}

	h := stream.NewConsumer(&mockOpener{body: body}, discardLogger()).
		Consume(context.Background(), stream.Request{}, sink)

	err := h.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry gone")
	assert.Empty(t, sink.fragments)
}

func TestConsumeCancel(t *testing.T) {
	sent := make(chan struct{})
	opener := &mockOpener{open: func(ctx context.Context) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			_, _ = pw.Write([]byte("partial"))
			close(sent)
			<-ctx.Done()
			pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}}
	sink := &recordingSink{}

	h := stream.NewConsumer(opener, discardLogger()).Consume(context.Background(), stream.Request{}, sink)
	<-sent
	h.Cancel()

	err := h.Wait()
	require.ErrorIs(t, err, context.Canceled)
	<-h.Done()
	assert.Equal(t, 1, sink.closed)
}
