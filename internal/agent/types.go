// Package agent drives language-model agents against a session.
package agent

import (
	"encoding/json"
	"errors"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/ashureev/citycast/internal/session"
)

var (
	// ErrNoFinalResponse is returned when an agent loop ends without a final event.
	ErrNoFinalResponse = errors.New("agent did not produce a final response")
	// ErrMissingStateKey is returned when an instruction references an unset slot.
	ErrMissingStateKey = errors.New("instruction references missing state key")
	// ErrUnknownTool is returned when a definition or model names an unregistered tool.
	ErrUnknownTool = errors.New("unknown tool")
)

// Definition configures one agent. A definition with sub-agents is a
// sequential agent: its children run strictly in order against the same
// session, each reading the slots written by the ones before it.
type Definition struct {
	Name        string
	Description string
	Model       string
	Instruction string
	Tools       []string
	// OutputKey names the session slot the final text is written to.
	OutputKey string
	// OutputSchema is a JSON schema the model is asked to follow.
	OutputSchema json.RawMessage
	SubAgents    []*Definition
	// Validate checks the final text before it is committed to the session.
	Validate func(text string) error
}

// IsSequential reports whether the definition composes sub-agents.
func (d *Definition) IsSequential() bool {
	return len(d.SubAgents) > 0
}

// Invocation is one leaf agent run handed to a Backend.
type Invocation struct {
	ID      string
	AppName string
	Agent   *Definition
	// Instruction is the agent instruction with state placeholders resolved.
	Instruction string
	Session     *session.Session
	Input       domain.Content
}
