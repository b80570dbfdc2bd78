package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/ashureev/citycast/internal/domain"
	"github.com/ashureev/citycast/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// RuntimeServiceName is the gRPC service exposed by the remote agent runtime.
	RuntimeServiceName = "citycast.agent.v1.AgentRuntime"
	runMethod          = "/" + RuntimeServiceName + "/Run"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errRuntimeEvent             = errors.New("agent runtime returned error")
	errRuntimeNotServing        = errors.New("agent runtime not serving")
)

// runStreamDesc describes the server-streaming Run call. Messages on both
// directions are google.protobuf.Struct values.
var runStreamDesc = &grpc.StreamDesc{
	StreamName:    "Run",
	ServerStreams: true,
}

// GrpcBackend delegates agent loops to a remote agent runtime over gRPC.
type GrpcBackend struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcBackend connects to the agent runtime and waits until the
// connection is ready so bad endpoints fail at startup.
func NewGrpcBackend(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent runtime at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("agent runtime at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to agent runtime", "address", cfg.Address)

	return &GrpcBackend{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcBackend) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

// Health checks the runtime through the standard gRPC health service.
func (c *GrpcBackend) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: RuntimeServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errRuntimeNotServing, resp.GetStatus())
	}
	return nil
}

// Run streams the invocation to the runtime and converts its replies to events.
func (c *GrpcBackend) Run(ctx context.Context, inv *Invocation) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		req, err := invocationToStruct(inv)
		if err != nil {
			yield(nil, fmt.Errorf("encode invocation: %w", err))
			return
		}

		stream, err := c.conn.NewStream(ctx, runStreamDesc, runMethod)
		if err != nil {
			yield(nil, fmt.Errorf("run request failed: %w", err))
			return
		}
		if err := stream.SendMsg(req); err != nil {
			yield(nil, fmt.Errorf("send invocation: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("close send: %w", err))
			return
		}

		for {
			resp := &structpb.Struct{}
			err := stream.RecvMsg(resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				c.logger.Error("Agent runtime stream error", "error", err, "agent", inv.Agent.Name)
				yield(nil, fmt.Errorf("run stream error: %w", err))
				return
			}

			ev, err := eventFromStruct(resp)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func invocationToStruct(inv *Invocation) (*structpb.Struct, error) {
	def := inv.Agent

	tools := make([]any, 0, len(def.Tools))
	for _, t := range def.Tools {
		tools = append(tools, t)
	}
	state := make(map[string]any)
	for k, v := range inv.Session.State() {
		state[k] = v
	}
	parts := make([]any, 0, len(inv.Input.Parts))
	for _, p := range inv.Input.Parts {
		parts = append(parts, map[string]any{"text": p.Text})
	}
	key := inv.Session.Key()

	return structpb.NewStruct(map[string]any{
		"invocation_id": inv.ID,
		"app_name":      key.AppName,
		"user_id":       key.UserID,
		"session_id":    key.SessionID,
		"agent": map[string]any{
			"name":          def.Name,
			"model":         def.Model,
			"description":   def.Description,
			"instruction":   inv.Instruction,
			"tools":         tools,
			"output_key":    def.OutputKey,
			"output_schema": string(def.OutputSchema),
		},
		"message": map[string]any{
			"role":  inv.Input.Role,
			"parts": parts,
		},
		"state": state,
	})
}

func eventFromStruct(s *structpb.Struct) (*session.Event, error) {
	fields := s.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return nil, fmt.Errorf("%w: %s", errRuntimeEvent, msg)
	}

	ev := &session.Event{
		ID:      fields["id"].GetStringValue(),
		Author:  fields["author"].GetStringValue(),
		Content: domain.NewModelContent(fields["text"].GetStringValue()),
		Final:   fields["final"].GetBoolValue(),
	}
	if delta := fields["state_delta"].GetStructValue(); delta != nil {
		ev.StateDelta = make(map[string]string, len(delta.GetFields()))
		for k, v := range delta.GetFields() {
			ev.StateDelta[k] = v.GetStringValue()
		}
	}
	return ev, nil
}
