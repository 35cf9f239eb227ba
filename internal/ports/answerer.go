package ports

import "context"

// Answerer produces an answer for a question. Latency is unbounded, so callers
// must pass a context with a deadline.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, question string) (string, error)

// Answer calls f.
func (f AnswererFunc) Answer(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}
