// Package ctxutil provides context helpers shared by the relay components.
//
// It carries request-scoped values such as the trace id and the publishing
// source, and derives detached contexts for background work:
//
//	ctx, traceID := ctxutil.EnsureTraceID(ctx)
//	ctx = ctxutil.SetSource(ctx, "planner-agent")
//
//	bg, cancel := ctxutil.WithAsyncContext(ctx, 10*time.Second)
//	defer cancel()
package ctxutil
