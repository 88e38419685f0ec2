package streamchatui

import _ "embed"

// ExampleConfig is the annotated default configuration. The server writes it out when no configuration file
// exists yet, and runs with it.
//
//go:embed config.example.yaml
var ExampleConfig []byte
