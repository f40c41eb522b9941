// Package tunnel pumps packets between a tunnel device and the classifier.
//
// One goroutine owns the device for the lifetime of a Loop: it reads a packet,
// classifies it and writes the outcome back before reading the next one, so packet
// order is preserved and no buffer outlives its iteration.
package tunnel

import (
	"errors"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/hostguard/internal/core"
	"firestige.xyz/hostguard/internal/metrics"
)

// DefaultMTU bounds a single read from the device.
const DefaultMTU = 32767

// Classifier decides the fate of one packet.
type Classifier interface {
	Classify(pkt []byte) core.Verdict
}

// Stats are cumulative counters of one Loop.
type Stats struct {
	Read      uint64 `json:"read"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
	Responded uint64 `json:"responded"`
	Recovered uint64 `json:"recovered"`
	Errors    uint64 `json:"errors"`
}

type counters struct {
	read, forwarded, dropped, responded, recovered, errors atomic.Uint64
}

// Loop reads from dev until it is stopped or the device fails.
type Loop struct {
	dev      io.ReadWriteCloser
	cls      Classifier
	mtu      int
	panicLog *rate.Limiter

	mu       sync.Mutex
	started  bool
	running  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	err      error

	stats counters
}

// Option configures a Loop.
type Option func(*Loop)

// WithMTU sets the read buffer size.
func WithMTU(mtu int) Option {
	return func(l *Loop) {
		if mtu > 0 {
			l.mtu = mtu
		}
	}
}

// WithPanicLogInterval limits how often recovered panics are logged.
func WithPanicLogInterval(every time.Duration) Option {
	return func(l *Loop) { l.panicLog = rate.NewLimiter(rate.Every(every), 1) }
}

// New creates a Loop over dev. The Loop takes ownership of dev and closes it when it ends.
func New(dev io.ReadWriteCloser, cls Classifier, opts ...Option) *Loop {
	l := &Loop{
		dev:      dev,
		cls:      cls,
		mtu:      DefaultMTU,
		panicLog: rate.NewLimiter(rate.Every(time.Second), 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the loop goroutine. Starting a running loop is a no-op. A Loop runs
// once: starting it again after it ended returns ErrEngineStopped.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		return nil
	}
	if l.started {
		return core.ErrEngineStopped
	}
	if l.dev == nil {
		return core.ErrNoDevice
	}
	l.started = true
	l.running.Store(true)
	go l.run()
	return nil
}

// Stop closes the device, which unblocks the pending read, and waits for the loop
// goroutine to exit. Stopping a loop that is not running is a no-op.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	var err error
	if l.stopping.CompareAndSwap(false, true) {
		err = l.dev.Close()
	}
	<-l.done
	if errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	return err
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool { return l.running.Load() }

// Done is closed when the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Err returns the transport error that ended the loop, or nil if it was stopped.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Read:      l.stats.read.Load(),
		Forwarded: l.stats.forwarded.Load(),
		Dropped:   l.stats.dropped.Load(),
		Responded: l.stats.responded.Load(),
		Recovered: l.stats.recovered.Load(),
		Errors:    l.stats.errors.Load(),
	}
}

func (l *Loop) run() {
	defer close(l.done)
	defer l.running.Store(false)
	defer func() {
		if !l.stopping.Swap(true) {
			_ = l.dev.Close()
		}
	}()

	slog.Info("tunnel loop started", "mtu", l.mtu)
	buf := make([]byte, l.mtu)
	for {
		n, err := l.dev.Read(buf)
		if err != nil || n == 0 {
			l.finish("read", err)
			return
		}
		l.stats.read.Add(1)
		metrics.PacketsTotal.Inc()

		pkt := buf[:n]
		v := l.classify(pkt)

		switch v.Action {
		case core.ActionDrop:
			l.stats.dropped.Add(1)
			continue
		case core.ActionRespond:
			l.stats.responded.Add(1)
			_, err = l.dev.Write(v.Payload)
		default:
			l.stats.forwarded.Add(1)
			_, err = l.dev.Write(pkt)
		}
		if err != nil {
			l.finish("write", err)
			return
		}
	}
}

// finish records why the loop ended. Errors caused by Stop closing the device are expected.
func (l *Loop) finish(op string, err error) {
	if l.stopping.Load() {
		slog.Info("tunnel loop stopped", "packets", l.stats.read.Load())
		return
	}
	if err == nil {
		err = io.EOF
	}
	l.stats.errors.Add(1)
	metrics.LoopErrorsTotal.WithLabelValues(op).Inc()
	slog.Error("tunnel loop ended", "op", op, "error", err)

	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// classify runs the classifier for one packet. A panic is contained to that packet,
// which is then forwarded.
func (l *Loop) classify(pkt []byte) (v core.Verdict) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.stats.recovered.Add(1)
			metrics.LoopErrorsTotal.WithLabelValues("panic").Inc()
			if l.panicLog.Allow() {
				slog.Error("panic while classifying packet, forwarding",
					"panic", r, "len", len(pkt), "stack", string(debug.Stack()))
			}
			v = core.Forward
		}
		metrics.ClassifyLatencySeconds.Observe(time.Since(start).Seconds())
	}()
	return l.cls.Classify(pkt)
}
