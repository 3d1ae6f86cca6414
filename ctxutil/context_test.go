package ctxutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureTraceID(t *testing.T) {
	ctx, id := EnsureTraceID(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, GetTraceID(ctx))

	ctx2, id2 := EnsureTraceID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, ctx2)
}

func TestSource(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetSource(ctx))
	assert.Equal(t, "planner", GetSource(SetSource(ctx, "planner")))
}

func TestWithAsyncContextSurvivesParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(SetTraceID(context.Background(), "t-1"))
	ctx, stop := WithAsyncContext(parent, time.Second)
	defer stop()

	cancel()
	assert.NoError(t, ctx.Err())
	assert.Equal(t, "t-1", GetTraceID(ctx))

	_, hasDeadline := ctx.Deadline()
	assert.True(t, hasDeadline)
}
