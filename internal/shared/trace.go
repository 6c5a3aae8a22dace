package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type runIDKey struct{}
type phaseIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRunID attaches the orchestrator run_id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID extracts run_id from context. Returns "" if absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithPhaseID attaches the currently executing phase id to the context.
func WithPhaseID(ctx context.Context, phaseID string) context.Context {
	return context.WithValue(ctx, phaseIDKey{}, phaseID)
}

// PhaseID extracts the phase id from context. Returns "" if absent.
func PhaseID(ctx context.Context) string {
	if v, ok := ctx.Value(phaseIDKey{}).(string); ok {
		return v
	}
	return ""
}
