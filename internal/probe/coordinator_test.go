package probe_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var candidates = []string{"m1", "m2", "m3"}

type checkResult struct {
	ok  bool
	err error
}

// mockChecker answers from results. Models listed in gates block until their channel is closed, ignoring
// context cancellation so late resolutions can be simulated.
type mockChecker struct {
	mu      sync.Mutex
	results map[string]map[string]checkResult
	gates   map[string]chan struct{}
	panics  map[string]bool
	calls   []string
}

func (m *mockChecker) CheckModel(_ context.Context, credential, model string) (bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, credential+"/"+model)
	gate := m.gates[credential+"/"+model]
	res := m.results[credential][model]
	shouldPanic := m.panics[model]
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if shouldPanic {
		panic("boom")
	}
	return res.ok, res.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeAllResolvesEachCandidateIndependently(t *testing.T) {
	slow := make(chan struct{})
	checker := &mockChecker{
		results: map[string]map[string]checkResult{
			"key": {
				"m1": {ok: true},
				"m2": {err: errors.New("quota exceeded")},
				"m3": {ok: true},
			},
		},
		gates: map[string]chan struct{}{"key/m1": slow},
	}

	var updates sync.WaitGroup
	updates.Add(3) // checking + m2 + m3
	var n atomic.Int32
	c := probe.NewCoordinator(checker, discardLogger(), probe.WithOnUpdate(func() {
		if n.Add(1) <= 3 {
			updates.Done()
		}
	}))
	defer c.Close()

	c.ProbeAll("key", candidates)
	updates.Wait()

	res := resultsFor(t, c, "key")
	assert.Equal(t, models.ProbeChecking, res["m1"], "slow probe must not block the others")
	assert.Equal(t, models.ProbeUnavailable, res["m2"])
	assert.Equal(t, models.ProbeAvailable, res["m3"])

	close(slow)
	c.Wait()
	assert.Equal(t, models.ProbeAvailable, resultsFor(t, c, "key")["m1"])
}

func TestProbeAllMarksCheckingImmediately(t *testing.T) {
	gate := make(chan struct{})
	checker := &mockChecker{
		gates: map[string]chan struct{}{"key/m1": gate, "key/m2": gate, "key/m3": gate},
	}
	c := probe.NewCoordinator(checker, discardLogger())
	defer c.Close()

	c.ProbeAll("key", candidates)
	for _, m := range candidates {
		assert.Equal(t, models.ProbeChecking, resultsFor(t, c, "key")[m])
	}

	close(gate)
	c.Wait()
	for _, m := range candidates {
		assert.Equal(t, models.ProbeUnavailable, resultsFor(t, c, "key")[m])
	}
}

func TestProbeAllBlankCredentialResets(t *testing.T) {
	checker := &mockChecker{
		results: map[string]map[string]checkResult{"key": {"m1": {ok: true}}},
	}
	c := probe.NewCoordinator(checker, discardLogger())
	defer c.Close()

	c.ProbeAll("key", candidates)
	c.Wait()
	require.Equal(t, models.ProbeAvailable, resultsFor(t, c, "key")["m1"])

	checker.mu.Lock()
	calls := len(checker.calls)
	checker.mu.Unlock()

	c.ProbeAll("   ", candidates)
	c.Wait()

	for _, m := range candidates {
		assert.Equal(t, models.ProbeUntested, resultsFor(t, c, "   ")[m])
	}
	checker.mu.Lock()
	assert.Len(t, checker.calls, calls, "blank credential must not launch probes")
	checker.mu.Unlock()
}

func TestProbeAllDiscardsStaleResults(t *testing.T) {
	release := make(chan struct{})
	checker := &mockChecker{
		results: map[string]map[string]checkResult{
			"A": {"m1": {ok: true}, "m2": {ok: true}, "m3": {ok: true}},
			"B": {"m1": {}, "m2": {ok: true}, "m3": {}},
		},
		gates: map[string]chan struct{}{"A/m1": release, "A/m2": release, "A/m3": release},
	}
	c := probe.NewCoordinator(checker, discardLogger())

	c.ProbeAll("A", candidates)
	c.ProbeAll("B", candidates)
	c.Wait()

	want := map[string]models.ProbeStatus{
		"m1": models.ProbeUnavailable,
		"m2": models.ProbeAvailable,
		"m3": models.ProbeUnavailable,
	}
	assert.Equal(t, want, resultsFor(t, c, "B"))

	close(release)
	c.Close()

	assert.Equal(t, want, resultsFor(t, c, "B"), "late results for A must not touch B's result set")

	_, ok := c.ResultsFor("A")
	assert.False(t, ok, "results of a superseded credential must not be served")
}

func TestProbeAllDiscardsResultsOfSameCredentialEarlierBatch(t *testing.T) {
	release := make(chan struct{})
	checker := &mockChecker{
		results: map[string]map[string]checkResult{"A": {"m1": {ok: true}}},
		gates:   map[string]chan struct{}{"A/m1": release},
	}
	c := probe.NewCoordinator(checker, discardLogger())

	c.ProbeAll("A", []string{"m1"})
	c.ProbeAll("", []string{"m1"})
	checker.mu.Lock()
	checker.gates = nil
	checker.results["A"]["m1"] = checkResult{err: errors.New("revoked")}
	checker.mu.Unlock()
	c.ProbeAll("A", []string{"m1"})
	c.Wait()
	require.Equal(t, models.ProbeUnavailable, resultsFor(t, c, "A")["m1"])

	close(release)
	c.Close()
	assert.Equal(t, models.ProbeUnavailable, resultsFor(t, c, "A")["m1"])
}

func TestProbePanicIsUnavailable(t *testing.T) {
	checker := &mockChecker{
		results: map[string]map[string]checkResult{"key": {"m1": {ok: true}, "m2": {ok: true}}},
		panics:  map[string]bool{"m2": true},
	}
	c := probe.NewCoordinator(checker, discardLogger())
	defer c.Close()

	c.ProbeAll("key", []string{"m1", "m2", "m1"})
	c.Wait()

	assert.Equal(t, map[string]models.ProbeStatus{
		"m1": models.ProbeAvailable,
		"m2": models.ProbeUnavailable,
	}, resultsFor(t, c, "key"))
}

func resultsFor(t *testing.T, c *probe.Coordinator, credential string) map[string]models.ProbeStatus {
	t.Helper()
	results, ok := c.ResultsFor(credential)
	require.True(t, ok, "current batch must belong to %q", credential)
	return results
}
