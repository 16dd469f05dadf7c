package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogger_JSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON, LevelInfo)

	logger.Debug("hidden", "key", "value")
	logger.With("run_id", "run-1").Warn("group failed", "dedup_key", "vbc foo", "error", errors.New("boom"))
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %s", out)
	}
	for _, want := range []string{`"run_id":"run-1"`, `"dedup_key":"vbc foo"`, `"error":"boom"`, `"level":"WARN"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output: %s", want, out)
		}
	}
}

func TestLogger_OddArgsAndNil(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON, LevelDebug)
	logger.Info("odd", "dangling")
	if !strings.Contains(buf.String(), `"dangling":null`) {
		t.Fatalf("expected dangling key to be logged as null: %s", buf.String())
	}

	var nilLogger *Logger
	nilLogger.Info("does not panic")
}

func TestParseFormat(t *testing.T) {
	if ParseFormat(" Console ") != FormatConsole {
		t.Fatalf("expected console format")
	}
	if ParseFormat("anything") != FormatJSON {
		t.Fatalf("expected json fallback")
	}
}

func TestLogger_MirrorReceivesBoundArgs(t *testing.T) {
	var (
		gotMsg  string
		gotArgs []any
	)
	SetMirror(func(_ context.Context, _ Level, msg string, args ...any) {
		gotMsg = msg
		gotArgs = args
	})
	defer SetMirror(nil)

	var buf bytes.Buffer
	New(&buf, FormatJSON, LevelInfo).With("run_id", "run-1").InfoContext(context.Background(), "run finished", "created", 2)

	if gotMsg != "run finished" {
		t.Fatalf("unexpected mirrored message: %q", gotMsg)
	}
	if len(gotArgs) != 4 || gotArgs[0] != "run_id" || gotArgs[3] != 2 {
		t.Fatalf("unexpected mirrored args: %#v", gotArgs)
	}
}

func TestLogger_ContextAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON, LevelInfo)

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.InfoContext(ctx, "group merged", "dedup_key", "vbc foo")
	logger.Info("no span")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"trace_id":"0af7651916cd43dd8448eb211c80319c"`) || !strings.Contains(lines[0], `"span_id":"b7ad6b7169203331"`) {
		t.Fatalf("expected trace ids: %s", lines[0])
	}
	if strings.Contains(lines[1], "trace_id") {
		t.Fatalf("unexpected trace id without span: %s", lines[1])
	}
}

func TestLogger_WrapCoreKeepsBoundArgs(t *testing.T) {
	var gotArgs []any
	SetMirror(func(_ context.Context, _ Level, _ string, args ...any) { gotArgs = args })
	defer SetMirror(nil)

	var extra bytes.Buffer
	base := New(&bytes.Buffer{}, FormatJSON, LevelInfo).With("service", "habicht-clubsync")
	teed := base.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(&extra), LevelWarn))
	})

	teed.Warn("host unreachable", "host", "vbc-foo.ch")
	if !strings.Contains(extra.String(), `"service":"habicht-clubsync"`) {
		t.Fatalf("expected bound field in teed sink: %s", extra.String())
	}
	if len(gotArgs) != 4 || gotArgs[0] != "service" {
		t.Fatalf("unexpected mirrored args: %#v", gotArgs)
	}
}
