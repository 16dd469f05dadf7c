package observability

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/miocrobos/habicht-directory/internal/config"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

func TestInitPyroscope_Disabled(t *testing.T) {
	t.Parallel()

	stop, err := InitPyroscope(config.Config{PyroscopeEnabled: false}, logging.NewNop())
	if err != nil {
		t.Fatalf("init pyroscope: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("stop pyroscope: %v", err)
	}
}

func TestProfileTags(t *testing.T) {
	t.Parallel()

	tags := profileTags(config.Config{AppEnv: config.EnvDev, ServiceName: "habicht-clubsync"})
	if _, ok := tags["version"]; ok {
		t.Fatalf("empty version must not be tagged: %v", tags)
	}
	if tags["service"] != "habicht-clubsync" || tags["env"] != config.EnvDev {
		t.Fatalf("unexpected tags: %v", tags)
	}
}

func TestLabelProfile(t *testing.T) {
	ctx := LabelProfile(context.Background(), "command", "run")
	defer pprof.SetGoroutineLabels(context.Background())

	if got, ok := pprof.Label(ctx, "command"); !ok || got != "run" {
		t.Fatalf("expected command=run label, got %q", got)
	}
}
