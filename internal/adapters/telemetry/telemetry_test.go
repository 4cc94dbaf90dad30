package telemetry_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.trai.ch/xnail/internal/adapters/telemetry"
	"go.trai.ch/xnail/internal/core/ports"
	"go.trai.ch/xnail/internal/core/ports/mocks"
	"go.uber.org/mock/gomock"
)

func TestPrometheus_Records(t *testing.T) {
	p := telemetry.NewPrometheus()

	p.CacheLookup(ports.CacheHit)
	p.CacheLookup(ports.CacheHit)
	p.CacheLookup(ports.CacheMiss)
	p.Compilation(ports.OutcomeOK, 20*time.Millisecond)
	p.Transform(ports.OutcomeUserError, time.Millisecond)

	expected := `
# HELP xnail_cache_lookups_total Compiled-artifact cache lookups by result.
# TYPE xnail_cache_lookups_total counter
xnail_cache_lookups_total{result="hit"} 2
xnail_cache_lookups_total{result="miss"} 1
`
	require.NoError(t, testutil.GatherAndCompare(p.Registry(), strings.NewReader(expected), "xnail_cache_lookups_total"))

	count, err := testutil.GatherAndCount(p.Registry(), "xnail_compilation_duration_seconds", "xnail_transform_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheus_Serve(t *testing.T) {
	p := telemetry.NewPrometheus()
	p.CacheLookup(ports.CacheStale)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- p.Serve(ctx, lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `xnail_cache_lookups_total{result="stale"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics listener did not stop")
	}
}

func TestSpanLogger_LogsFinishedSpans(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := mocks.NewMockLogger(ctrl)

	var logged []string
	logger.EXPECT().Debug(gomock.Any()).Do(func(msg string) {
		logged = append(logged, msg)
	}).Times(2)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(telemetry.NewSpanLogger(logger)),
	)
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	_, ok := tracer.Start(context.Background(), "compile")
	ok.SetAttributes(attribute.String("program", "/srv/sheets/a.go"))
	ok.End()

	_, failed := tracer.Start(context.Background(), "execute")
	failed.RecordError(errors.New("boom"))
	failed.SetStatus(codes.Error, "execution failed")
	failed.End()

	require.Len(t, logged, 2)
	assert.Contains(t, logged[0], "span compile took")
	assert.Contains(t, logged[0], "(ok)")
	assert.Contains(t, logged[0], "program=/srv/sheets/a.go")
	assert.Contains(t, logged[1], "span execute took")
	assert.Contains(t, logged[1], "(error: execution failed)")
}
