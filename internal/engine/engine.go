// Package engine ties the blocklist, classifier and tunnel loop together and exposes
// the control API used by the daemon.
package engine

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/hostguard/internal/blocklist"
	"firestige.xyz/hostguard/internal/classifier"
	"firestige.xyz/hostguard/internal/core"
	"firestige.xyz/hostguard/internal/flowcache"
	"firestige.xyz/hostguard/internal/metrics"
	"firestige.xyz/hostguard/internal/tunnel"
)

// DeviceOpener returns a fresh tunnel device. It is called on every Start, since a
// stopped loop closes the device it owned.
type DeviceOpener func() (io.ReadWriteCloser, error)

// Status is a point-in-time view of the engine.
type Status struct {
	Running     bool         `json:"running"`
	Device      string       `json:"device,omitempty"`
	StartedAt   time.Time    `json:"started_at,omitzero"`
	Domains     int          `json:"domains"`
	FlowEntries int          `json:"flow_entries"`
	Packets     tunnel.Stats `json:"packets"`
	LastError   string       `json:"last_error,omitempty"`
}

// Engine owns at most one running tunnel loop at a time.
type Engine struct {
	store    *blocklist.Store
	open     DeviceOpener
	flows    *flowcache.Cache
	cls      tunnel.Classifier
	loopOpts []tunnel.Option

	mu        sync.Mutex
	loop      *tunnel.Loop
	device    string
	startedAt time.Time
	totals    tunnel.Stats // counters of loops that already ended
	closed    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClassifier replaces the default classifier.
func WithClassifier(c tunnel.Classifier) Option {
	return func(e *Engine) { e.cls = c }
}

// WithFlowCache sets the flow cache flushed when the blocklist shrinks. It should be
// the same cache the classifier uses.
func WithFlowCache(fc *flowcache.Cache) Option {
	return func(e *Engine) { e.flows = fc }
}

// WithLoopOptions passes options to every tunnel loop the engine starts.
func WithLoopOptions(opts ...tunnel.Option) Option {
	return func(e *Engine) { e.loopOpts = append(e.loopOpts, opts...) }
}

// New creates a stopped Engine over store.
func New(store *blocklist.Store, open DeviceOpener, opts ...Option) *Engine {
	e := &Engine{store: store, open: open}
	for _, opt := range opts {
		opt(e)
	}
	if e.flows == nil {
		e.flows = flowcache.New(flowcache.DefaultTTL, flowcache.DefaultCleanupInterval)
	}
	if e.cls == nil {
		e.cls = classifier.New(store, classifier.WithFlowCache(e.flows))
	}
	metrics.BlocklistSize.Set(float64(store.Len()))
	return e
}

// Store returns the blocklist the engine consults.
func (e *Engine) Store() *blocklist.Store { return e.store }

// AddBlockedDomain adds domain to the blocklist.
func (e *Engine) AddBlockedDomain(domain string) error {
	_, err := e.AddBlockedDomains([]string{domain})
	return err
}

// AddBlockedDomains adds a batch in one step and returns how many were new. If any
// domain is invalid nothing is added.
func (e *Engine) AddBlockedDomains(domains []string) (int, error) {
	added, err := e.store.AddAll(domains)
	if err != nil {
		return 0, err
	}
	metrics.BlocklistSize.Set(float64(e.store.Len()))
	return added, nil
}

// RemoveBlockedDomain removes domain and reports whether it was present. Flows that
// were being dropped are released.
func (e *Engine) RemoveBlockedDomain(domain string) (bool, error) {
	n, err := e.RemoveBlockedDomains([]string{domain})
	return n > 0, err
}

// RemoveBlockedDomains removes a batch and returns how many were present. The batch is
// validated first, so an invalid entry removes nothing.
func (e *Engine) RemoveBlockedDomains(domains []string) (int, error) {
	for _, d := range domains {
		if _, err := blocklist.Normalize(d); err != nil {
			return 0, err
		}
	}
	removed := 0
	for _, d := range domains {
		if ok, _ := e.store.Remove(d); ok {
			removed++
		}
	}
	if removed > 0 {
		e.flows.Flush()
		metrics.BlocklistSize.Set(float64(e.store.Len()))
	}
	return removed, nil
}

// IsDomainBlocked reports whether domain is on the blocklist.
func (e *Engine) IsDomainBlocked(domain string) bool { return e.store.Contains(domain) }

// ListBlockedDomains returns the blocklist in sorted order.
func (e *Engine) ListBlockedDomains() []string { return e.store.List() }

// ClearBlockedDomains empties the blocklist and releases every dropped flow.
func (e *Engine) ClearBlockedDomains() {
	e.store.Clear()
	e.flows.Flush()
	metrics.BlocklistSize.Set(0)
}

// BlocklistChanged must be called after the store was replaced behind the engine's
// back, for example by a reload.
func (e *Engine) BlocklistChanged() {
	e.flows.Flush()
	metrics.BlocklistSize.Set(float64(e.store.Len()))
}

// Start opens a device and starts the tunnel loop. It is a no-op while running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return core.ErrEngineStopped
	}
	if e.loop != nil && e.loop.Running() {
		return nil
	}
	if e.open == nil {
		return core.ErrNoDevice
	}

	dev, err := e.open()
	if err != nil {
		return err
	}
	e.retireLoop()

	loop := tunnel.New(dev, e.cls, e.loopOpts...)
	if err := loop.Start(); err != nil {
		_ = dev.Close()
		return err
	}
	e.loop = loop
	e.startedAt = time.Now()
	e.device = ""
	if n, ok := dev.(interface{ Name() string }); ok {
		e.device = n.Name()
	}
	metrics.EngineStatus.Set(metrics.EngineStatusRunning)
	go e.watch(loop)

	slog.Info("engine started", "device", e.device, "domains", e.store.Len())
	return nil
}

// watch resets the status gauge when a loop ends, whether stopped or failed.
func (e *Engine) watch(loop *tunnel.Loop) {
	<-loop.Done()
	e.mu.Lock()
	current := e.loop == loop
	e.mu.Unlock()
	if current {
		metrics.EngineStatus.Set(metrics.EngineStatusStopped)
		if err := loop.Err(); err != nil {
			slog.Warn("engine loop ended on its own", "error", err)
		}
	}
}

// Stop stops the tunnel loop. It is a no-op when not running.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loop == nil {
		return nil
	}
	err := e.loop.Stop()
	metrics.EngineStatus.Set(metrics.EngineStatusStopped)
	slog.Info("engine stopped", "packets", e.loop.Stats().Read)
	return err
}

// Running reports whether the tunnel loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop != nil && e.loop.Running()
}

// Status returns the current engine status. Packet counters span every loop the
// engine has run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Domains:     e.store.Len(),
		FlowEntries: e.flows.Len(),
		Packets:     e.totals,
	}
	if e.loop != nil {
		st.Running = e.loop.Running()
		st.Packets = addStats(e.totals, e.loop.Stats())
		if err := e.loop.Err(); err != nil {
			st.LastError = err.Error()
		}
		if st.Running {
			st.Device = e.device
			st.StartedAt = e.startedAt
		}
	}
	return st
}

// Close stops the engine and clears the blocklist. A closed engine cannot be restarted.
func (e *Engine) Close() error {
	err := e.Stop()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.ClearBlockedDomains()
	return err
}

// retireLoop folds the counters of the previous loop into the totals. Caller holds mu.
func (e *Engine) retireLoop() {
	if e.loop == nil {
		return
	}
	e.totals = addStats(e.totals, e.loop.Stats())
	e.loop = nil
}

func addStats(a, b tunnel.Stats) tunnel.Stats {
	return tunnel.Stats{
		Read:      a.Read + b.Read,
		Forwarded: a.Forwarded + b.Forwarded,
		Dropped:   a.Dropped + b.Dropped,
		Responded: a.Responded + b.Responded,
		Recovered: a.Recovered + b.Recovered,
		Errors:    a.Errors + b.Errors,
	}
}
