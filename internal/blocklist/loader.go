package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	Domains        []string      // static entries always present
	Sources        []Source      // files and URLs merged on every load
	Interval       time.Duration // 0 disables periodic reload
	FetchTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Loader fills a Store from static domains and external sources.
type Loader struct {
	store  *Store
	client *http.Client

	mu  sync.RWMutex
	cfg LoaderConfig

	lastLoad  time.Time
	lastCount int
	onLoad    func(n int, err error)
}

// NewLoader creates a Loader bound to store.
func NewLoader(store *Store, cfg LoaderConfig) *Loader {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	return &Loader{
		store:  store,
		client: &http.Client{},
		cfg:    cfg,
	}
}

// SetConfig replaces the loader configuration. It takes effect on the next load.
func (l *Loader) SetConfig(cfg LoaderConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = l.cfg.FetchTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = l.cfg.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = l.cfg.MaxBackoff
	}
	l.cfg = cfg
}

// OnLoad registers fn to be called after every load attempt, including those made by Run.
func (l *Loader) OnLoad(fn func(n int, err error)) {
	l.mu.Lock()
	l.onLoad = fn
	l.mu.Unlock()
}

func (l *Loader) config() LoaderConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Load fetches all sources concurrently and replaces the store contents with the union
// of static domains and every source. If any source fails the store is left untouched.
func (l *Loader) Load(ctx context.Context) (int, error) {
	n, err := l.load(ctx)
	l.mu.RLock()
	fn := l.onLoad
	l.mu.RUnlock()
	if fn != nil {
		fn(n, err)
	}
	return n, err
}

func (l *Loader) load(ctx context.Context) (int, error) {
	cfg := l.config()

	ctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	results := make([][]string, len(cfg.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range cfg.Sources {
		i, src := i, src
		g.Go(func() error {
			domains, err := Fetch(gctx, l.client, src)
			if err != nil {
				return fmt.Errorf("source %s: %w", src, err)
			}
			slog.Debug("blocklist: source fetched", "source", src.String(), "count", len(domains))
			results[i] = domains
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	all := append([]string(nil), cfg.Domains...)
	for _, r := range results {
		all = append(all, r...)
	}
	n, err := l.store.Replace(all)
	if err != nil {
		slog.Warn("blocklist: skipped invalid entries", "error", err)
	}

	l.mu.Lock()
	l.lastLoad = time.Now()
	l.lastCount = n
	l.mu.Unlock()

	slog.Info("blocklist loaded", "domains", n, "sources", len(cfg.Sources))
	return n, nil
}

// LastLoad returns the time and size of the last successful load.
func (l *Loader) LastLoad() (time.Time, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastLoad, l.lastCount
}

// Run reloads the store every Interval until ctx is done. Failed reloads back off
// exponentially with jitter. Run returns immediately when Interval is zero.
func (l *Loader) Run(ctx context.Context) error {
	cfg := l.config()
	if cfg.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("blocklist reloader stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := l.Load(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			failures++
			backoff := calcBackoff(cfg.InitialBackoff, cfg.MaxBackoff, failures)
			slog.Error("blocklist reload failed", "attempt", failures, "backoff", backoff, "error", err)

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		if failures > 0 {
			slog.Info("blocklist reload recovered", "failures", failures)
		}
		failures = 0
	}
}

func calcBackoff(initial, ceiling time.Duration, failures int) time.Duration {
	backoff := time.Duration(float64(initial) * math.Pow(2, float64(failures-1)))
	if backoff > ceiling || backoff <= 0 {
		backoff = ceiling
	}
	// +/-20% jitter
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(backoff))
	return backoff + jitter
}
