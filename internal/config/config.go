package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

// Config stores runtime configuration for clubsync and the migration tool.
type Config struct {
	AppEnv         string
	ServiceName    string
	ServiceVersion string
	DBURL          string
	DBMaxOpenConns int
	LogLevel       logging.Level
	LogFormat      logging.Format

	UptraceEnabled      bool
	UptraceDSN          string
	UptraceLogsEnabled  bool
	BetterStackEnabled  bool
	BetterStackEndpoint string
	BetterStackToken    string
	BetterStackTimeout  time.Duration
	BetterStackMinLevel logging.Level

	PyroscopeEnabled           bool
	PyroscopeServerAddress     string
	PyroscopeAppName           string
	PyroscopeAuthToken         string
	PyroscopeBasicAuthUser     string
	PyroscopeBasicAuthPassword string
	PyroscopeUploadRate        time.Duration

	NormalizeWorkers int
	MergeWorkers     int
	StoreMaxRetries  int
	StoreRetryBase   time.Duration
	StoreRetryMax    time.Duration
	RecordRetryBase  time.Duration
	RecordRetryMax   time.Duration
	// ReferenceColumns lists "table.column" pairs that hold club ids and are
	// repointed when clubs merge.
	ReferenceColumns []string
	CheckpointPath   string
	SuggestDistance  int

	EnrichEnabled           bool
	OverridesPath           string
	DirectorySearchURL      string
	WebSearchURL            string
	FetchUserAgent          string
	FetchConcurrency        int
	FetchRate               string
	FetchTimeout            time.Duration
	FetchMaxRetries         int
	FetchCacheTTL           time.Duration
	FetchMaxBodyBytes       int
	FetchCircuitEnabled     bool
	FetchCircuitFailures    int
	FetchCircuitOpenTimeout time.Duration
	FetchCircuitHalfOpenMax int
}

// LoadDotEnv loads the given .env files when they exist. Variables already
// set in the environment win.
func LoadDotEnv(files ...string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("stat %s: %w", file, err)
		}
		existing = append(existing, file)
	}
	if len(existing) == 0 {
		return 0, nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return 0, fmt.Errorf("load env files: %w", err)
	}
	return len(existing), nil
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	logFormatDefault := string(logging.FormatConsole)
	if appEnv != EnvDev {
		logFormatDefault = string(logging.FormatJSON)
	}

	dbMaxOpenConns, err := getEnvAsPositiveInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return Config{}, err
	}

	uptraceEnabled, err := strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	uptraceDSN := strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if uptraceDSN == "" {
		uptraceDSN = parseUptraceDSNFromOTLPHeaders(getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""))
	}
	if uptraceEnabled && uptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}
	uptraceLogsEnabled, err := strconv.ParseBool(getEnv("UPTRACE_LOGS_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_LOGS_ENABLED: %w", err)
	}

	betterStackEnabled, err := strconv.ParseBool(getEnv("BETTERSTACK_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse BETTERSTACK_ENABLED: %w", err)
	}
	betterStackEndpoint := strings.TrimSpace(getEnv("BETTERSTACK_ENDPOINT", ""))
	if betterStackEnabled && betterStackEndpoint == "" {
		return Config{}, fmt.Errorf("BETTERSTACK_ENDPOINT is required when BETTERSTACK_ENABLED=true")
	}
	betterStackTimeout, err := getEnvAsDuration("BETTERSTACK_TIMEOUT", 3*time.Second)
	if err != nil {
		return Config{}, err
	}

	pyroscopeEnabled, err := strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	pyroscopeServerAddress := strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if pyroscopeEnabled && pyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	pyroscopeUploadRate, err := getEnvAsDuration("PYROSCOPE_UPLOAD_RATE", 15*time.Second)
	if err != nil {
		return Config{}, err
	}

	normalizeWorkers, err := getEnvAsPositiveInt("NORMALIZE_WORKERS", 8)
	if err != nil {
		return Config{}, err
	}
	mergeWorkers, err := getEnvAsPositiveInt("MERGE_WORKERS", 4)
	if err != nil {
		return Config{}, err
	}
	storeMaxRetries, err := getEnvAsInt("STORE_MAX_RETRIES", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse STORE_MAX_RETRIES: %w", err)
	}
	if storeMaxRetries < 0 {
		return Config{}, fmt.Errorf("STORE_MAX_RETRIES must be >= 0")
	}
	storeRetryBase, err := getEnvAsDuration("STORE_RETRY_BASE", 200*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	storeRetryMax, err := getEnvAsDuration("STORE_RETRY_MAX", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	recordRetryBase, err := getEnvAsDuration("RECORD_RETRY_BASE", time.Minute)
	if err != nil {
		return Config{}, err
	}
	recordRetryMax, err := getEnvAsDuration("RECORD_RETRY_MAX", 6*time.Hour)
	if err != nil {
		return Config{}, err
	}
	if recordRetryMax < recordRetryBase {
		return Config{}, fmt.Errorf("RECORD_RETRY_MAX must be >= RECORD_RETRY_BASE")
	}
	suggestDistance, err := getEnvAsInt("SWEEP_SUGGEST_DISTANCE", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse SWEEP_SUGGEST_DISTANCE: %w", err)
	}
	if suggestDistance < 0 {
		return Config{}, fmt.Errorf("SWEEP_SUGGEST_DISTANCE must be >= 0")
	}

	enrichEnabled, err := strconv.ParseBool(getEnv("ENRICH_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse ENRICH_ENABLED: %w", err)
	}
	fetchConcurrency, err := getEnvAsPositiveInt("FETCH_CONCURRENCY", 4)
	if err != nil {
		return Config{}, err
	}
	fetchTimeout, err := getEnvAsDuration("FETCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	fetchMaxRetries, err := getEnvAsInt("FETCH_MAX_RETRIES", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse FETCH_MAX_RETRIES: %w", err)
	}
	if fetchMaxRetries < 0 {
		return Config{}, fmt.Errorf("FETCH_MAX_RETRIES must be >= 0")
	}
	fetchCacheTTL, err := getEnvAsDuration("FETCH_CACHE_TTL", 6*time.Hour)
	if err != nil {
		return Config{}, err
	}
	fetchMaxBodyBytes, err := getEnvAsPositiveInt("FETCH_MAX_BODY_BYTES", 2<<20)
	if err != nil {
		return Config{}, err
	}
	fetchCircuitEnabled, err := strconv.ParseBool(getEnv("FETCH_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse FETCH_CIRCUIT_ENABLED: %w", err)
	}
	fetchCircuitFailures, err := getEnvAsPositiveInt("FETCH_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, err
	}
	fetchCircuitOpenTimeout, err := getEnvAsDuration("FETCH_CIRCUIT_OPEN_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	fetchCircuitHalfOpenMax, err := getEnvAsPositiveInt("FETCH_CIRCUIT_HALF_OPEN_MAX_REQ", 1)
	if err != nil {
		return Config{}, err
	}
	fetchRate := strings.TrimSpace(getEnv("FETCH_RATE", "30-M"))
	if !validRateFormat(fetchRate) {
		return Config{}, fmt.Errorf("invalid FETCH_RATE %q, expected <count>-<S|M|H|D>", fetchRate)
	}

	cfg := Config{
		AppEnv:                     appEnv,
		ServiceName:                getEnv("SERVICE_NAME", "habicht-clubsync"),
		ServiceVersion:             getEnv("SERVICE_VERSION", "dev"),
		DBURL:                      strings.TrimSpace(getEnv("DB_URL", "")),
		DBMaxOpenConns:             dbMaxOpenConns,
		LogLevel:                   parseLogLevel(getEnv("LOG_LEVEL", "info")),
		LogFormat:                  logging.ParseFormat(getEnv("LOG_FORMAT", logFormatDefault)),
		UptraceEnabled:             uptraceEnabled,
		UptraceDSN:                 uptraceDSN,
		UptraceLogsEnabled:         uptraceLogsEnabled,
		BetterStackEnabled:         betterStackEnabled,
		BetterStackEndpoint:        betterStackEndpoint,
		BetterStackToken:           strings.TrimSpace(getEnv("BETTERSTACK_TOKEN", "")),
		BetterStackTimeout:         betterStackTimeout,
		BetterStackMinLevel:        parseLogLevel(getEnv("BETTERSTACK_MIN_LEVEL", "warn")),
		PyroscopeEnabled:           pyroscopeEnabled,
		PyroscopeServerAddress:     pyroscopeServerAddress,
		PyroscopeAuthToken:         strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", "")),
		PyroscopeBasicAuthUser:     strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_USER", "")),
		PyroscopeBasicAuthPassword: strings.TrimSpace(getEnv("PYROSCOPE_BASIC_AUTH_PASSWORD", "")),
		PyroscopeUploadRate:        pyroscopeUploadRate,
		NormalizeWorkers:           normalizeWorkers,
		MergeWorkers:               mergeWorkers,
		StoreMaxRetries:            storeMaxRetries,
		StoreRetryBase:             storeRetryBase,
		StoreRetryMax:              storeRetryMax,
		RecordRetryBase:            recordRetryBase,
		RecordRetryMax:             recordRetryMax,
		ReferenceColumns:           splitCSV(getEnv("CLUB_REFERENCE_COLUMNS", "")),
		CheckpointPath:             strings.TrimSpace(getEnv("CHECKPOINT_PATH", "")),
		SuggestDistance:            suggestDistance,
		EnrichEnabled:              enrichEnabled,
		OverridesPath:              strings.TrimSpace(getEnv("OVERRIDES_PATH", "")),
		DirectorySearchURL:         strings.TrimSpace(getEnv("DIRECTORY_SEARCH_URL", "")),
		WebSearchURL:               strings.TrimSpace(getEnv("WEB_SEARCH_URL", "")),
		FetchUserAgent:             getEnv("FETCH_USER_AGENT", "habicht-clubsync/1.0"),
		FetchConcurrency:           fetchConcurrency,
		FetchRate:                  fetchRate,
		FetchTimeout:               fetchTimeout,
		FetchMaxRetries:            fetchMaxRetries,
		FetchCacheTTL:              fetchCacheTTL,
		FetchMaxBodyBytes:          fetchMaxBodyBytes,
		FetchCircuitEnabled:        fetchCircuitEnabled,
		FetchCircuitFailures:       fetchCircuitFailures,
		FetchCircuitOpenTimeout:    fetchCircuitOpenTimeout,
		FetchCircuitHalfOpenMax:    fetchCircuitHalfOpenMax,
	}
	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	if cfg.PyroscopeEnabled && cfg.PyroscopeAppName == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_APP_NAME is required when PYROSCOPE_ENABLED=true")
	}
	if cfg.EnrichEnabled && cfg.OverridesPath == "" && cfg.DirectorySearchURL == "" && cfg.WebSearchURL == "" {
		return Config{}, fmt.Errorf("ENRICH_ENABLED=true needs OVERRIDES_PATH, DIRECTORY_SEARCH_URL or WEB_SEARCH_URL")
	}

	return cfg, nil
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func getEnvAsPositiveInt(key string, fallback int) (int, error) {
	out, err := getEnvAsInt(key, fallback)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if out <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return out, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if out <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}

// validRateFormat accepts the limiter's "<count>-<period>" notation, e.g. "30-M".
func validRateFormat(v string) bool {
	count, period, ok := strings.Cut(v, "-")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return false
	}
	switch strings.ToUpper(period) {
	case "S", "M", "H", "D":
		return true
	default:
		return false
	}
}

func parseUptraceDSNFromOTLPHeaders(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	items := strings.Split(raw, ",")
	for _, item := range items {
		parts := strings.SplitN(strings.TrimSpace(item), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "uptrace-dsn") {
			value := strings.TrimSpace(parts[1])
			return strings.Trim(value, "\"'")
		}
	}

	return ""
}

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}
