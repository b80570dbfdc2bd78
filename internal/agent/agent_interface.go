package agent

import (
	"context"
	"iter"

	"github.com/ashureev/citycast/internal/session"
)

// Backend executes one agent's reasoning and tool-calling loop.
// This interface is implemented by the in-process LLM loop and the gRPC
// client to a remote agent runtime.
type Backend interface {
	// Run streams the events of one invocation. Events marked Final carry
	// the agent's complete answer; the stream may end without one.
	Run(ctx context.Context, inv *Invocation) iter.Seq2[*session.Event, error]

	// Health reports whether the backend can serve invocations.
	Health(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Ensure both backends implement Backend.
var (
	_ Backend = (*LLMBackend)(nil)
	_ Backend = (*GrpcBackend)(nil)
)
