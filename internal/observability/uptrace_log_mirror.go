package observability

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	otellog "go.opentelemetry.io/otel/log"
	otelglobal "go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap/zapcore"

	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

const mirrorInstrumentation = "habicht-directory/internal/platform/logging"

// auditedMessages are already persisted in the canonical store's audit
// tables, so shipping them again only adds volume.
var auditedMessages = map[string]struct{}{
	"merge conflict recorded": {},
}

// severities maps zap levels onto OTLP severities; DPanic and above are fatal.
var severities = map[logging.Level]otellog.Severity{
	zapcore.DebugLevel:  otellog.SeverityDebug,
	zapcore.InfoLevel:   otellog.SeverityInfo,
	zapcore.WarnLevel:   otellog.SeverityWarn,
	zapcore.ErrorLevel:  otellog.SeverityError,
	zapcore.DPanicLevel: otellog.SeverityFatal,
	zapcore.PanicLevel:  otellog.SeverityFatal,
	zapcore.FatalLevel:  otellog.SeverityFatal,
}

func toOTelSeverity(level logging.Level) otellog.Severity {
	if sev, ok := severities[level]; ok {
		return sev
	}
	if level < zapcore.DebugLevel {
		return otellog.SeverityDebug
	}
	return otellog.SeverityError
}

// newUptraceLogMirror forwards log records at or above minLevel to the global
// OTel logger provider that uptrace.ConfigureOpentelemetry installs.
func newUptraceLogMirror(serviceVersion string, minLevel logging.Level) logging.MirrorFunc {
	sink := otelglobal.Logger(mirrorInstrumentation, otellog.WithInstrumentationVersion(serviceVersion))

	return func(ctx context.Context, level logging.Level, msg string, args ...any) {
		if shouldSkipUptraceLog(level, minLevel, msg) {
			return
		}
		if ctx == nil {
			ctx = context.Background()
		}
		sev := toOTelSeverity(level)
		if !sink.Enabled(ctx, otellog.EnabledParameters{Severity: sev, EventName: msg}) {
			return
		}

		var rec otellog.Record
		ts := time.Now().UTC()
		rec.SetTimestamp(ts)
		rec.SetObservedTimestamp(ts)
		rec.SetSeverity(sev)
		rec.SetSeverityText(level.CapitalString())
		rec.SetEventName(msg)
		rec.SetBody(otellog.StringValue(msg))
		rec.AddAttributes(buildOTelLogAttributes(args)...)
		sink.Emit(ctx, rec)
	}
}

func shouldSkipUptraceLog(level, minLevel logging.Level, msg string) bool {
	_, audited := auditedMessages[msg]
	return audited || level < minLevel
}

// buildOTelLogAttributes pairs up key/value args; a non-string key is named
// after its position and a dangling key gets an empty value.
func buildOTelLogAttributes(args []any) []otellog.KeyValue {
	out := make([]otellog.KeyValue, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		key, _ := args[i].(string)
		if strings.TrimSpace(key) == "" {
			key = "arg_" + strconv.Itoa(i/2)
		}
		if i+1 == len(args) {
			out = append(out, otellog.Empty(key))
			break
		}
		out = append(out, otellog.KeyValue{Key: key, Value: toOTelLogValue(args[i+1])})
	}
	return out
}

// toOTelLogValue keeps scalars typed and flattens anything structured
// (clubs, provenance, flag maps) to its JSON form.
func toOTelLogValue(value any) otellog.Value {
	switch v := value.(type) {
	case nil:
		return otellog.Value{}
	case string:
		return otellog.StringValue(v)
	case bool:
		return otellog.BoolValue(v)
	case int:
		return otellog.IntValue(v)
	case int32:
		return otellog.Int64Value(int64(v))
	case int64:
		return otellog.Int64Value(v)
	case uint32:
		return otellog.Int64Value(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return otellog.StringValue(strconv.FormatUint(v, 10))
		}
		return otellog.Int64Value(int64(v))
	case float64:
		return otellog.Float64Value(v)
	case time.Time:
		return otellog.StringValue(v.UTC().Format(time.RFC3339Nano))
	case time.Duration:
		return otellog.StringValue(v.String())
	case error:
		return otellog.StringValue(v.Error())
	case fmt.Stringer:
		return otellog.StringValue(v.String())
	case []string:
		items := make([]otellog.Value, 0, len(v))
		for _, item := range v {
			items = append(items, otellog.StringValue(item))
		}
		return otellog.SliceValue(items...)
	}

	encoded, err := sonic.MarshalString(value)
	if err != nil {
		return otellog.StringValue(fmt.Sprint(value))
	}
	return otellog.StringValue(encoded)
}
