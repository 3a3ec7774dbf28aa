package ctxlog_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/specialistvlad/subgrid/internal/ctxlog"
	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), ctxlog.FromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)
	assert.Same(t, logger, ctxlog.FromContext(ctx))
}

func TestWith(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(buf, nil)))

	ctx = ctxlog.With(ctx, "node", "px")
	ctxlog.FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello node=px")
}
