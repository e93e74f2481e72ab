package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/ajitpratap0/elabmate/pkg/errors"
)

func restoreProvider(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
}

func TestInitTracing_ExportsSpans(t *testing.T) {
	restoreProvider(t)
	var buf bytes.Buffer

	cfg := DefaultTracingConfig("test")
	cfg.Writer = &buf
	cfg.PrettyPrint = false
	shutdown, err := InitTracing(context.Background(), cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "bridge.snapshot")
	span.SetAttribute("acquisition.id", "run-7")
	span.SetAttribute("experiment.id", 42)
	span.SetAttribute("files", int64(3))
	span.SetAttribute("ratio", 0.5)
	span.SetAttribute("replaced", true)
	span.SetAttribute("path", struct{ Dir string }{"data"})
	span.End(nil)

	_, failed := StartSpan(context.Background(), "experiment.upload")
	failed.End(errors.Remote(403, "This entity is locked"))

	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"Name":"bridge.snapshot"`)
	assert.Contains(t, out, "run-7")
	assert.Contains(t, out, `"Name":"experiment.upload"`)
	assert.Contains(t, out, "This entity is locked")
	assert.Contains(t, out, `"Value":"elabmate"`)
}

func TestInitTracing_NeverSample(t *testing.T) {
	restoreProvider(t)
	var buf bytes.Buffer

	shutdown, err := InitTracing(context.Background(), TracingConfig{
		ServiceName: "elabmate",
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "ignored")
	span.End(nil)
	require.NoError(t, shutdown(context.Background()))

	assert.Empty(t, buf.String())
}

func TestStartSpan_WithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "noop")
	assert.NotNil(t, ctx)
	span.SetAttribute("k", "v")
	span.End(errors.New(errors.ErrorTypeValidation, "bad"))
}
