package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "add", "doc-1")
	childCtx, parse := StartChildSpan(ctx, "parse")
	parse.SetAttr("nodes", 3)
	parse.End()
	_, post := StartChildSpan(childCtx, "postings")
	post.End()
	root.End()

	require.Len(t, root.Children, 1)
	assert.Equal(t, "doc-1", root.Children[0].TraceID)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "postings", root.Children[0].Children[0].Name)
	assert.Same(t, root, SpanFromContext(ctx))
}

func TestChildWithoutParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, SpanFromContext(ctx))
}

func TestLogOnlyAtDebug(t *testing.T) {
	var buf bytes.Buffer
	_, root := StartSpan(context.Background(), "add", "doc-1")
	root.End()

	info := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	root.Log(context.Background(), info)
	assert.Empty(t, buf.String())

	debug := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	root.Log(context.Background(), debug)
	assert.True(t, strings.Contains(buf.String(), "trace_id=doc-1"))
}
