package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/jensholdgaard/cardmarket/internal/config"
)

func TestNewNopProvider(t *testing.T) {
	p := NewNopProvider()

	if p.TracerProvider == nil {
		t.Fatal("TracerProvider is nil")
	}
	if p.MeterProvider == nil {
		t.Fatal("MeterProvider is nil")
	}
	if p.LoggerProvider == nil {
		t.Fatal("LoggerProvider is nil")
	}
	if p.Logger == nil {
		t.Fatal("Logger is nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestSetup_Local(t *testing.T) {
	var buf bytes.Buffer
	p, err := setup(context.Background(), config.TelemetryConfig{ServiceName: "cardmarket", ServiceVersion: "test"}, &buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	p.Logger.Info("card created", slog.Int64("card_id", 7))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if rec["msg"] != "card created" || rec["card_id"] != float64(7) {
		t.Errorf("record = %v", rec)
	}
}

func TestLogWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	if got := LogWithTrace(context.Background(), logger); got != logger {
		t.Error("context without span should return the same logger")
	}

	p := NewNopProvider()
	ctx, span := p.TracerProvider.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	LogWithTrace(ctx, logger).Info("hello")
	want := span.SpanContext().TraceID().String()
	if !strings.Contains(buf.String(), `"trace_id":"`+want+`"`) {
		t.Errorf("log line %q lacks trace id %s", buf.String(), want)
	}
}

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	info := slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(Tee(info, debug)).With(slog.String("component", "market"))

	logger.Debug("only debug")
	logger.Info("both")

	if strings.Contains(a.String(), "only debug") {
		t.Error("info handler received a debug record")
	}
	if !strings.Contains(a.String(), "both") || strings.Count(b.String(), "\n") != 2 {
		t.Errorf("a=%q b=%q", a.String(), b.String())
	}
	if !strings.Contains(a.String(), `"component":"market"`) {
		t.Error("attrs not propagated")
	}
}
