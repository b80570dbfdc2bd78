package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/ashureev/citycast/internal/session"
	"github.com/ashureev/citycast/internal/tool"
	"github.com/sashabaranov/go-openai"
)

var errEmptyCompletion = errors.New("chat completion returned no choices")

// DefaultLLMBaseURL is the OpenAI-compatible endpoint of the Gemini API.
const DefaultLLMBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// LLMConfig configures the in-process agent loop.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	// MaxSteps bounds the number of model calls per invocation.
	MaxSteps    int
	ToolTimeout time.Duration
}

// LLMBackend runs agents in-process against an OpenAI-compatible chat
// completions API, executing tool calls itself.
type LLMBackend struct {
	client      *openai.Client
	tools       *tool.Registry
	maxSteps    int
	toolTimeout time.Duration
	logger      *slog.Logger
}

// NewLLMBackend creates an LLMBackend.
func NewLLMBackend(cfg LLMConfig, tools *tool.Registry, logger *slog.Logger) *LLMBackend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &LLMBackend{
		client:      openai.NewClientWithConfig(clientConfig),
		tools:       tools,
		maxSteps:    cfg.MaxSteps,
		toolTimeout: cfg.ToolTimeout,
		logger:      logger,
	}
}

// Health reports whether the backend is configured. It does not call the API.
func (b *LLMBackend) Health(context.Context) error {
	if b.client == nil {
		return errors.New("llm client not configured")
	}
	return nil
}

// Close releases resources.
func (b *LLMBackend) Close() error { return nil }

// Run drives the chat-completion loop until the model answers without
// requesting tools or MaxSteps is exhausted. Exhaustion ends the stream
// without a final event.
func (b *LLMBackend) Run(ctx context.Context, inv *Invocation) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		def := inv.Agent

		tools, err := b.tools.Select(def.Tools)
		if err != nil {
			yield(nil, fmt.Errorf("%w: %w", ErrUnknownTool, err))
			return
		}

		req := openai.ChatCompletionRequest{Model: def.Model}
		for _, t := range tools {
			req.Tools = append(req.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
		if len(def.OutputSchema) > 0 {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   def.Name,
					Schema: def.OutputSchema,
				},
			}
		}

		var messages []openai.ChatCompletionMessage
		if inv.Instruction != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: inv.Instruction,
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: inv.Input.Text(),
		})

		for step := 0; step < b.maxSteps; step++ {
			req.Messages = messages
			resp, err := b.client.CreateChatCompletion(ctx, req)
			if err != nil {
				yield(nil, fmt.Errorf("chat completion: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				yield(nil, errEmptyCompletion)
				return
			}

			msg := resp.Choices[0].Message
			if len(msg.ToolCalls) == 0 {
				yield(&session.Event{
					Author:  def.Name,
					Content: domain.NewModelContent(msg.Content),
					Final:   true,
				}, nil)
				return
			}

			messages = append(messages, msg)
			if !yield(&session.Event{Author: def.Name, Content: domain.NewModelContent(describeToolCalls(msg.ToolCalls))}, nil) {
				return
			}

			for _, call := range msg.ToolCalls {
				result, err := b.callTool(ctx, call)
				if err != nil {
					yield(nil, err)
					return
				}
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    result,
					Name:       call.Function.Name,
					ToolCallID: call.ID,
				})
				if !yield(&session.Event{Author: call.Function.Name, Content: domain.NewModelContent(result)}, nil) {
					return
				}
			}
		}

		b.logger.Warn("Agent exhausted tool-calling steps", "agent", def.Name, "max_steps", b.maxSteps)
	}
}

func (b *LLMBackend) callTool(ctx context.Context, call openai.ToolCall) (string, error) {
	t, err := b.tools.Get(call.Function.Name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownTool, err)
	}

	if b.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.toolTimeout)
		defer cancel()
	}

	started := time.Now()
	out, err := t.Call(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", t.Name(), err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", t.Name(), err)
	}
	b.logger.Debug("Tool call finished", "tool", t.Name(), "duration_ms", time.Since(started).Milliseconds())
	return string(data), nil
}

func describeToolCalls(calls []openai.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, c.Function.Name+"("+c.Function.Arguments+")")
	}
	return "tool calls: " + strings.Join(parts, ", ")
}
