package probe

import "github.com/MegaGrindStone/stream-chat-ui/internal/models"

// SelectModel returns the first model of preference that is marked available in results. When none is
// available it returns previous unchanged. It has no side effects.
func SelectModel(results map[string]models.ProbeStatus, previous string, preference []string) string {
	for _, m := range preference {
		if results[m] == models.ProbeAvailable {
			return m
		}
	}
	return previous
}

// Effective derives the model a session should use: choice itself while it is available, otherwise the
// SelectModel fallback over preference.
func Effective(results map[string]models.ProbeStatus, choice string, preference []string) string {
	if results[choice] == models.ProbeAvailable {
		return choice
	}
	return SelectModel(results, choice, preference)
}
