package probe_test

import (
	"testing"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/probe"
	"github.com/stretchr/testify/assert"
)

func TestSelectModel(t *testing.T) {
	preference := []string{"m1", "m2", "m3"}

	tests := []struct {
		name     string
		results  map[string]models.ProbeStatus
		previous string
		want     string
	}{
		{
			name: "first available in preference order",
			results: map[string]models.ProbeStatus{
				"m1": models.ProbeUnavailable,
				"m2": models.ProbeAvailable,
				"m3": models.ProbeAvailable,
			},
			previous: "m3",
			want:     "m2",
		},
		{
			name: "none available retains previous",
			results: map[string]models.ProbeStatus{
				"m1": models.ProbeUnavailable,
				"m2": models.ProbeChecking,
				"m3": models.ProbeUntested,
			},
			previous: "m3",
			want:     "m3",
		},
		{
			name:     "empty results retains previous",
			results:  nil,
			previous: "m1",
			want:     "m1",
		},
		{
			name:     "available model outside preference is ignored",
			results:  map[string]models.ProbeStatus{"other": models.ProbeAvailable},
			previous: "m1",
			want:     "m1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probe.SelectModel(tt.results, tt.previous, preference))
		})
	}
}

func TestEffective(t *testing.T) {
	preference := []string{"m1", "m2", "m3"}
	results := map[string]models.ProbeStatus{
		"m1": models.ProbeAvailable,
		"m2": models.ProbeUnavailable,
		"m3": models.ProbeAvailable,
	}

	assert.Equal(t, "m3", probe.Effective(results, "m3", preference), "available choice is kept")
	assert.Equal(t, "m1", probe.Effective(results, "m2", preference), "unavailable choice falls back")
	assert.Equal(t, "m2", probe.Effective(map[string]models.ProbeStatus{}, "m2", preference))
}
