package models

// ChatRequest is the body of a chat request to the remote API. DeveloperMessage and Model fall back to
// DefaultDeveloperMessage and DefaultModel when empty.
type ChatRequest struct {
	DeveloperMessage string `json:"developer_message"`
	UserMessage      string `json:"user_message"`
	Model            string `json:"model,omitempty"`
	APIKey           string `json:"api_key"`
}

// TestModelRequest asks whether a model accepts requests made with APIKey.
type TestModelRequest struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

// TestModelResponse reports the outcome of a minimal request for a model. Error carries the provider's
// reason when Available is false.
type TestModelResponse struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// AvailableModelsRequest asks for the chat models APIKey can use.
type AvailableModelsRequest struct {
	APIKey string `json:"api_key"`
}

// AvailableModelsResponse lists chat models in display priority. A listing failure is reported in Error
// with an empty list.
type AvailableModelsResponse struct {
	AvailableModels []string `json:"available_models"`
	Error           string   `json:"error,omitempty"`
}

// KeyDiagnostics describes the shape of a credential, to spot copy-and-paste mistakes like stray whitespace.
type KeyDiagnostics struct {
	Length        int    `json:"api_key_length"`
	StartsWith    string `json:"api_key_starts_with"`
	EndsWith      string `json:"api_key_ends_with"`
	HasWhitespace bool   `json:"has_whitespace"`
	Quoted        string `json:"api_key_repr"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
