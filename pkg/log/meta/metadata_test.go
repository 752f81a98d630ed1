package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBeginIsIdempotent(t *testing.T) {
	ctx := Begin(context.Background())
	assert.Equal(t, ctx, Begin(ctx))
}

func TestValuesWithoutBegin(t *testing.T) {
	ctx := context.Background()
	WithCorrelationID(ctx, 42)
	assert.Zero(t, CorrelationID(ctx))
	assert.Empty(t, TraceID(ctx))
}

func TestCorrelationAndTrace(t *testing.T) {
	ctx := Begin(context.Background())
	WithCorrelationID(ctx, 1700000000000123)
	WithTraceID(ctx, "trace-1")

	child, cancel := context.WithCancel(ctx)
	defer cancel()
	assert.EqualValues(t, 1700000000000123, CorrelationID(child))
	assert.Equal(t, "trace-1", TraceID(child))
}
