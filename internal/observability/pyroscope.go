package observability

import (
	"context"
	"fmt"
	"runtime/pprof"

	"github.com/grafana/pyroscope-go"

	"github.com/miocrobos/habicht-directory/internal/config"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

// Reconciliation is CPU bound in normalization and lock bound in the merge
// phase, so mutex profiles matter more than block profiles here.
var reconcileProfiles = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
}

// InitPyroscope starts continuous profiling when PYROSCOPE_ENABLED is set.
// The returned stop func is never nil.
func InitPyroscope(cfg config.Config, logger *logging.Logger) (func() error, error) {
	noop := func() error { return nil }
	if !cfg.PyroscopeEnabled {
		return noop, nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.PyroscopeAppName,
		ServerAddress:     cfg.PyroscopeServerAddress,
		AuthToken:         cfg.PyroscopeAuthToken,
		BasicAuthUser:     cfg.PyroscopeBasicAuthUser,
		BasicAuthPassword: cfg.PyroscopeBasicAuthPassword,
		UploadRate:        cfg.PyroscopeUploadRate,
		ProfileTypes:      reconcileProfiles,
		Tags:              profileTags(cfg),
	})
	if err != nil {
		return noop, fmt.Errorf("start pyroscope profiler: %w", err)
	}

	logger.Info("profiling to pyroscope", "server_address", cfg.PyroscopeServerAddress, "application", cfg.PyroscopeAppName)
	return profiler.Stop, nil
}

func profileTags(cfg config.Config) map[string]string {
	tags := map[string]string{"env": cfg.AppEnv, "service": cfg.ServiceName}
	if cfg.ServiceVersion != "" {
		tags["version"] = cfg.ServiceVersion
	}
	return tags
}

// LabelProfile tags samples taken on the current goroutine, and on goroutines
// it starts afterwards, with key=value. Profiles of one run can then be
// filtered by subcommand.
func LabelProfile(ctx context.Context, key, value string) context.Context {
	ctx = pprof.WithLabels(ctx, pyroscope.Labels(key, value))
	pprof.SetGoroutineLabels(ctx)
	return ctx
}
