package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Chronicle semantic convention attributes.
var (
	// Run attributes
	AttrRunID   = attribute.Key("chronicle.run.id")
	AttrTick    = attribute.Key("chronicle.run.tick")
	AttrSimTime = attribute.Key("chronicle.run.sim_time")

	// Action attributes
	AttrActionID   = attribute.Key("chronicle.action.id")
	AttrActionType = attribute.Key("chronicle.action.type")
	AttrAgentRole  = attribute.Key("chronicle.agent.role")

	// Policy attributes
	AttrDecision = attribute.Key("chronicle.policy.decision")

	// Timeline attributes
	AttrEventType = attribute.Key("chronicle.event.type")

	// Ledger attributes
	AttrEntryType = attribute.Key("chronicle.ledger.entry_type")
	AttrEntrySeq  = attribute.Key("chronicle.ledger.seq")
	AttrStoreKind = attribute.Key("chronicle.ledger.store")
)

// TickOperation creates attributes for tick advancement.
func TickOperation(runID string, tick int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrTick.Int(tick),
	}
}

// ActionOperation creates attributes for agent action handling.
func ActionOperation(runID, actionID, actionType, agentRole string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrActionID.String(actionID),
		AttrActionType.String(actionType),
		AttrAgentRole.String(agentRole),
	}
}

// PolicyOperation creates attributes for policy evaluation.
func PolicyOperation(runID, actionType, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrActionType.String(actionType),
		AttrDecision.String(decision),
	}
}

// LedgerOperation creates attributes for ledger appends.
func LedgerOperation(runID, entryType string, seq uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrEntryType.String(entryType),
		AttrEntrySeq.Int64(int64(seq)),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
