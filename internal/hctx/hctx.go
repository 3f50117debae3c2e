package hctx

import "context"

// State identifies the job a handler is executing.
type State struct {
	JID        string
	Class      string
	Queue      string
	RetryCount int
}

type ctxKey struct{}

// WithState returns a child context carrying the given handler state.
func WithState(parent context.Context, s State) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// From extracts the handler state from context if present.
func From(ctx context.Context) (State, bool) {
	st, ok := ctx.Value(ctxKey{}).(State)
	return st, ok
}
