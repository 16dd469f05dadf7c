package observability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/miocrobos/habicht-directory/internal/config"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
)

const (
	shipBatchSize     = 100
	shipMaxPending    = 1024
	shipFlushInterval = time.Second
	shipDrainTimeout  = 5 * time.Second
)

// InitBetterStackLogger tees base into Better Stack for records at or above
// BETTERSTACK_MIN_LEVEL. The shutdown func ships whatever is still pending.
func InitBetterStackLogger(cfg config.Config, base *logging.Logger) (*logging.Logger, func(context.Context) error, error) {
	if base == nil {
		base = logging.New(os.Stderr, logging.FormatJSON, cfg.LogLevel)
	}
	if !cfg.BetterStackEnabled {
		return base, func(context.Context) error { return nil }, nil
	}

	endpoint := normalizeBetterStackEndpoint(cfg.BetterStackEndpoint)
	if endpoint == "" {
		return nil, nil, errors.New("betterstack endpoint cannot be empty")
	}
	shipper := newLogShipper(endpoint, strings.TrimSpace(cfg.BetterStackToken), cfg.BetterStackTimeout, nil)
	logger := teeBetterStack(base, shipper, cfg.BetterStackMinLevel)
	logger.Info("shipping logs to betterstack", "endpoint", endpoint, "min_level", cfg.BetterStackMinLevel.String())

	return logger, func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, shipDrainTimeout)
			defer cancel()
		}
		if err := shipper.Close(ctx); err != nil {
			return fmt.Errorf("drain betterstack logs: %w", err)
		}
		return nil
	}, nil
}

// teeBetterStack adds a JSON core in Better Stack's field layout ("dt",
// "message") next to the existing one.
func teeBetterStack(base *logging.Logger, shipper *logShipper, minLevel logging.Level) *logging.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "dt"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder

	shipped := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(shipper), minLevel)
	return base.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, shipped)
	})
}

func normalizeBetterStackEndpoint(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" || strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return v
	}
	return "https://" + v
}

// logShipper buffers encoded records and posts them as JSON arrays, at most
// shipBatchSize per request. A flush runs when a batch fills up and once per
// shipFlushInterval. Records past shipMaxPending are dropped.
type logShipper struct {
	endpoint string
	token    string
	timeout  time.Duration
	client   *fasthttp.Client

	mu      sync.Mutex
	pending [][]byte
	closed  bool

	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func newLogShipper(endpoint, token string, timeout time.Duration, dial fasthttp.DialFunc) *logShipper {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	s := &logShipper{
		endpoint: endpoint,
		token:    token,
		timeout:  timeout,
		client: &fasthttp.Client{
			Name:         "habicht-clubsync-logs",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
			Dial:         dial,
		},
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Write never fails; a record that cannot be queued is counted as dropped.
func (s *logShipper) Write(p []byte) (int, error) {
	record := bytes.TrimSpace(p)
	if len(record) == 0 {
		return len(p), nil
	}

	s.mu.Lock()
	switch {
	case s.closed:
	case len(s.pending) >= shipMaxPending:
		s.dropped.Add(1)
	default:
		// zap reuses p after Write returns
		s.pending = append(s.pending, append([]byte(nil), record...))
		if len(s.pending) >= shipBatchSize {
			select {
			case s.kick <- struct{}{}:
			default:
			}
		}
	}
	s.mu.Unlock()
	return len(p), nil
}

func (s *logShipper) Sync() error { return nil }

func (s *logShipper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(shipFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.kick:
		case <-ticker.C:
		case <-s.stop:
			s.flush()
			return
		}
		s.flush()
	}
}

func (s *logShipper) flush() {
	s.mu.Lock()
	records := s.pending
	s.pending = nil
	s.mu.Unlock()

	for len(records) > 0 {
		n := min(len(records), shipBatchSize)
		s.post(records[:n])
		records = records[n:]
	}
}

func (s *logShipper) post(batch [][]byte) {
	body := bytebufferpool.Get()
	defer bytebufferpool.Put(body)
	_ = body.WriteByte('[')
	_, _ = body.Write(bytes.Join(batch, []byte{','}))
	_ = body.WriteByte(']')

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	req.SetBodyRaw(body.B)

	err := s.client.DoTimeout(req, resp, s.timeout)
	if err == nil && resp.StatusCode() >= fasthttp.StatusMultipleChoices {
		err = fmt.Errorf("status %d", resp.StatusCode())
	}
	if err != nil {
		s.failed.Add(uint64(len(batch)))
	}
}

// Close stops accepting records and waits for the final flush. Lost records
// are reported on stderr since the logger itself may be the one failing.
func (s *logShipper) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if dropped, failed := s.dropped.Load(), s.failed.Load(); dropped+failed > 0 {
		fmt.Fprintf(os.Stderr, "betterstack: %d log records dropped, %d failed to send\n", dropped, failed)
	}
	return nil
}
