package clubsite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/semaphore"

	"github.com/miocrobos/habicht-directory/internal/platform/cache"
	"github.com/miocrobos/habicht-directory/internal/platform/logging"
	"github.com/miocrobos/habicht-directory/internal/platform/resilience"
)

var (
	errTransient = crerr.New("club site transient failure")
	// ErrHostUnavailable is returned while a host's circuit is open.
	ErrHostUnavailable = crerr.New("club site host unavailable")
)

const maxRedirects = 5

// StatusError is a non-2xx answer that is not worth retrying.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Status)
}

// Page is a downloaded document.
type Page struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

func (p Page) IsHTML() bool {
	ct := strings.ToLower(p.ContentType)
	return ct == "" || strings.Contains(ct, "html")
}

type FetcherConfig struct {
	UserAgent    string
	Concurrency  int
	Rate         string
	Timeout      time.Duration
	Retry        resilience.BackoffConfig
	CacheTTL     time.Duration
	MaxBodyBytes int
	Circuit      resilience.CircuitBreakerConfig
	// Dial overrides the network dialer, e.g. with an in-memory listener.
	Dial   fasthttp.DialFunc
	Logger *logging.Logger
}

// Fetcher downloads club pages politely: a global concurrency cap, a
// per-host rate limit and circuit breaker, retries with backoff and a TTL
// cache that collapses concurrent requests for the same URL.
type Fetcher struct {
	client    *fasthttp.Client
	userAgent string
	timeout   time.Duration
	retry     resilience.BackoffConfig
	slots     *semaphore.Weighted
	limiter   *limiter.Limiter
	pages     *cache.Store[Page]
	logger    *logging.Logger

	circuitCfg resilience.CircuitBreakerConfig
	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if strings.TrimSpace(cfg.Rate) == "" {
		cfg.Rate = "30-M"
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "habicht-clubsync/1.0"
	}

	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("parse fetch rate %q: %w", cfg.Rate, err)
	}

	return &Fetcher{
		client: &fasthttp.Client{
			Name:                     cfg.UserAgent,
			ReadTimeout:              cfg.Timeout,
			WriteTimeout:             cfg.Timeout,
			MaxResponseBodySize:      cfg.MaxBodyBytes,
			MaxConnsPerHost:          cfg.Concurrency,
			NoDefaultUserAgentHeader: true,
			Dial:                     cfg.Dial,
		},
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		retry:      resilience.NormalizeBackoffConfig(cfg.Retry),
		slots:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:    limiter.New(memory.NewStore(), rate),
		pages:      cache.NewStore[Page](cfg.CacheTTL),
		logger:     logger.Named("clubsite"),
		circuitCfg: resilience.NormalizeCircuitBreakerConfig(cfg.Circuit),
		breakers:   make(map[string]*resilience.CircuitBreaker),
	}, nil
}

// Fetch returns the page at rawURL, from cache when fresh. Failures are not
// cached.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return Page{}, fmt.Errorf("invalid page url %q", rawURL)
	}
	target.Fragment = ""
	key := target.String()

	return f.pages.GetOrLoad(ctx, key, func(ctx context.Context) (Page, error) {
		return f.fetchWithRetry(ctx, target)
	})
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, target *url.URL) (Page, error) {
	host := strings.ToLower(target.Hostname())
	breaker := f.breaker(host)

	var page Page
	err := resilience.Retry(ctx, f.retry, isTransient, func(attempt int) error {
		if attempt > 0 {
			f.logger.DebugContext(ctx, "retrying page fetch", "url", target.String(), "attempt", attempt)
		}
		run := func() error {
			var fetchErr error
			page, fetchErr = f.fetchOnce(ctx, host, target.String())
			return fetchErr
		}
		if !f.circuitCfg.Enabled {
			return run()
		}
		if err := breaker.Execute(run, isTransient); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return fmt.Errorf("%w: %s", ErrHostUnavailable, host)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			f.logger.WarnContext(ctx, "page fetch failed", "url", target.String(), "error", err)
		}
		return Page{}, err
	}
	return page, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, host, rawURL string) (Page, error) {
	if err := f.waitForRate(ctx, host); err != nil {
		return Page{}, err
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return Page{}, err
	}
	defer f.slots.Release(1)

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return Page{}, context.DeadlineExceeded
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetUserAgent(f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	req.SetTimeout(timeout)

	if err := f.client.DoRedirects(req, resp, maxRedirects); err != nil {
		if errors.Is(err, fasthttp.ErrBodyTooLarge) {
			return Page{}, fmt.Errorf("GET %s: %w", rawURL, err)
		}
		return Page{}, fmt.Errorf("%w: GET %s: %v", errTransient, rawURL, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
	case status == fasthttp.StatusTooManyRequests || status >= fasthttp.StatusInternalServerError:
		return Page{}, fmt.Errorf("%w: GET %s: status %d", errTransient, rawURL, status)
	default:
		return Page{}, &StatusError{URL: rawURL, Status: status}
	}

	body, err := resp.BodyUncompressed()
	if err != nil {
		return Page{}, fmt.Errorf("decode body of %s: %w", rawURL, err)
	}
	return Page{
		URL:         rawURL,
		Status:      status,
		ContentType: string(resp.Header.ContentType()),
		Body:        append([]byte(nil), body...),
	}, nil
}

// waitForRate blocks until host has budget left in the current window.
func (f *Fetcher) waitForRate(ctx context.Context, host string) error {
	for {
		lctx, err := f.limiter.Get(ctx, host)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if !lctx.Reached {
			return nil
		}
		wait := time.Until(time.Unix(lctx.Reset, 0))
		if wait <= 0 {
			wait = 100 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *Fetcher) breaker(host string) *resilience.CircuitBreaker {
	f.breakersMu.Lock()
	defer f.breakersMu.Unlock()

	b, ok := f.breakers[host]
	if !ok {
		b = resilience.NewCircuitBreaker(f.circuitCfg)
		b.OnStateChange = func(from, to resilience.CircuitState) {
			f.logger.Info("host circuit changed", "host", host, "from", from, "to", to)
		}
		f.breakers[host] = b
	}
	return b
}

// HostState reports the circuit state for host.
func (f *Fetcher) HostState(host string) resilience.CircuitState {
	return f.breaker(strings.ToLower(host)).State()
}

func isTransient(err error) bool {
	return crerr.Is(err, errTransient)
}
