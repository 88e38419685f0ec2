package models

// Defaults shared by the session controller and the chat API.
const (
	DefaultModel            = "gpt-4.1-nano"
	DefaultDeveloperMessage = "You are a helpful AI assistant."
)

// DefaultCandidates lists the models probed for a credential, in preference order.
var DefaultCandidates = []string{
	"gpt-4.1-nano",
	"gpt-3.5-turbo",
	"gpt-4",
	"gpt-4-turbo",
	"gpt-4o",
	"gpt-4o-mini",
}
