package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/ashureev/citycast/internal/session"
	"github.com/google/uuid"
)

// SessionGetter looks up existing sessions.
type SessionGetter interface {
	Get(ctx context.Context, key session.Key) (*session.Session, error)
}

// RunnerConfig holds the dependencies of a Runner.
type RunnerConfig struct {
	Sessions SessionGetter
	Backend  Backend
	// Timeout bounds each leaf agent invocation. Zero means no bound.
	Timeout    time.Duration
	Transcript TranscriptLogger
	Logger     *slog.Logger
}

// Runner drives agents to completion against a session and returns only
// their final text.
type Runner struct {
	sessions   SessionGetter
	backend    Backend
	timeout    time.Duration
	transcript TranscriptLogger
	logger     *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transcript == nil {
		cfg.Transcript = noopTranscriptLogger{}
	}
	return &Runner{
		sessions:   cfg.Sessions,
		backend:    cfg.Backend,
		timeout:    cfg.Timeout,
		transcript: cfg.Transcript,
		logger:     cfg.Logger,
	}
}

// Backend returns the backend the runner drives.
func (r *Runner) Backend() Backend {
	return r.backend
}

// Run submits msg to the agent against the session identified by key and
// returns the text of the last final event. The session must already exist.
// An agent that never produces a final event yields ErrNoFinalResponse.
func (r *Runner) Run(ctx context.Context, def *Definition, key session.Key, msg domain.Content) (string, error) {
	sess, err := r.sessions.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("run agent %s: %w", def.Name, err)
	}

	invocationID := "e-" + uuid.NewString()
	sess.AppendEvent(&session.Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       domain.RoleUser,
		Content:      msg,
	})

	return r.run(ctx, def, sess, msg, invocationID)
}

func (r *Runner) run(ctx context.Context, def *Definition, sess *session.Session, msg domain.Content, invocationID string) (string, error) {
	if !def.IsSequential() {
		return r.runLeaf(ctx, def, sess, msg, invocationID)
	}

	var last string
	for i, sub := range def.SubAgents {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%s cancelled before stage %d (%s): %w", def.Name, i, sub.Name, err)
		}
		text, err := r.run(ctx, sub, sess, msg, invocationID)
		if err != nil {
			return "", fmt.Errorf("%s stage %d: %w", def.Name, i, err)
		}
		last = text
	}
	return last, nil
}

func (r *Runner) runLeaf(ctx context.Context, def *Definition, sess *session.Session, msg domain.Content, invocationID string) (string, error) {
	instruction, err := InjectState(def.Instruction, sess.State())
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", def.Name, err)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	inv := &Invocation{
		ID:          invocationID,
		AppName:     sess.Key().AppName,
		Agent:       def,
		Instruction: instruction,
		Session:     sess,
		Input:       msg,
	}

	started := time.Now()
	r.logger.Debug("Agent invocation started", "agent", def.Name, "session", sess.Key().String(), "invocation_id", invocationID)

	var final string
	events := 0
	for ev, err := range r.backend.Run(ctx, inv) {
		if err != nil {
			r.logTranscript(sess.Key(), def.Name, msg, "", err)
			return "", fmt.Errorf("agent %s: %w", def.Name, err)
		}
		events++
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		ev.InvocationID = invocationID
		if ev.Author == "" {
			ev.Author = def.Name
		}

		if ev.Final && !ev.Content.IsEmpty() {
			text := ev.Content.Text()
			if def.Validate != nil {
				if err := def.Validate(text); err != nil {
					r.logTranscript(sess.Key(), def.Name, msg, text, err)
					return "", fmt.Errorf("agent %s: %w", def.Name, err)
				}
			}
			if def.OutputKey != "" {
				if ev.StateDelta == nil {
					ev.StateDelta = make(map[string]string, 1)
				}
				ev.StateDelta[def.OutputKey] = text
			}
			final = text
		}
		sess.AppendEvent(ev)
	}

	if final == "" {
		r.logger.Warn("Agent did not produce a final response",
			"agent", def.Name,
			"session", sess.Key().String(),
			"events", events,
		)
		r.logTranscript(sess.Key(), def.Name, msg, "", ErrNoFinalResponse)
		return "", fmt.Errorf("agent %s: %w", def.Name, ErrNoFinalResponse)
	}

	r.logger.Info("Agent invocation finished",
		"agent", def.Name,
		"session", sess.Key().String(),
		"events", events,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	r.logTranscript(sess.Key(), def.Name, msg, final, nil)
	return final, nil
}

func (r *Runner) logTranscript(key session.Key, agentName string, msg domain.Content, output string, err error) {
	entry := TranscriptEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		AppName:   key.AppName,
		UserID:    key.UserID,
		SessionID: key.SessionID,
		Agent:     agentName,
		Input:     msg.Text(),
		Output:    output,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.transcript.Log(entry)
}
