package interfaces

import "context"

// Completer wraps the language-model endpoint. Implementations return
// trimmed text or an error wrapping ErrTransport; they never retry.
type Completer interface {
	// Complete runs one completion with the given system instructions and
	// conversation text.
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)

	// CompleteJSON is Complete constrained to emit a single JSON object.
	CompleteJSON(ctx context.Context, system, user string, temperature float32) (string, error)

	// CompleteCapped is Complete with an output token ceiling, used for
	// bounded-length direct answers.
	CompleteCapped(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error)
}
