// Package netwatch tracks connectivity to the remote API and exposes a
// live online/offline signal plus connection-quality hints to the UI seam.
package netwatch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
	pendingPollInterval  = 30 * time.Second
	slowConnectionRTT    = 600 * time.Millisecond
)

// Status is a snapshot of the connectivity state for the UI.
type Status struct {
	Online bool `json:"online"`
	// EffectiveType is a coarse connection class derived from probe RTT
	// bands; empty when probing is disabled.
	EffectiveType    string        `json:"effective_type,omitempty"`
	RTT              time.Duration `json:"rtt,omitempty"`
	SlowConnection   bool          `json:"slow_connection"`
	PendingMutations int           `json:"pending_mutations"`
	CheckedAt        time.Time     `json:"checked_at"`
}

// PendingFunc reports the number of queued mutations awaiting replay.
type PendingFunc func() (int, error)

// Watcher probes the remote API on an interval and fires subscriber
// callbacks on every online/offline transition. SetOnline forces the state
// directly (tests, airplane-mode toggles).
type Watcher struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *logrus.Logger

	mu      sync.RWMutex
	online  bool
	status  Status
	pending PendingFunc
	subs    map[int]func(online bool)
	nextID  int
}

// New creates a watcher. An empty probeURL disables probing; the state
// then changes only through SetOnline. The watcher starts out online.
func New(probeURL string, interval time.Duration, logger *logrus.Logger) *Watcher {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &Watcher{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: defaultProbeTimeout},
		logger:   logger,
		online:   true,
		status:   Status{Online: true, CheckedAt: time.Now()},
		subs:     make(map[int]func(bool)),
	}
}

// SetPendingFunc wires the queue's pending count into status snapshots.
// Called once during startup, after the queue exists.
func (w *Watcher) SetPendingFunc(fn PendingFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = fn
}

// Online reports the current connectivity state.
func (w *Watcher) Online() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.online
}

// Status returns the current connectivity snapshot.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Subscribe registers a transition listener and returns its unsubscribe
// function. Listeners fire only when the online state actually changes.
func (w *Watcher) Subscribe(fn func(online bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// SetOnline forces the connectivity state.
func (w *Watcher) SetOnline(online bool) {
	w.transition(online, 0)
}

// Start runs the probe and pending-count loops until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	if w.probeURL != "" {
		go w.probeLoop(ctx)
	}
	go w.pendingLoop(ctx)
}

func (w *Watcher) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

// probe issues one HEAD request against the health URL and folds the
// outcome into the state machine.
func (w *Watcher) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.probeURL, nil)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to build connectivity probe")
		return
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	rtt := time.Since(start)
	if err != nil {
		w.transition(false, 0)
		return
	}
	resp.Body.Close()
	w.transition(resp.StatusCode < 500, rtt)
}

// transition updates the state and quality fields, fires subscribers when
// the online state flipped, and refreshes the pending count on reconnect.
func (w *Watcher) transition(online bool, rtt time.Duration) {
	w.mu.Lock()
	changed := w.online != online
	w.online = online
	w.status.Online = online
	w.status.RTT = rtt
	w.status.EffectiveType = effectiveType(rtt)
	w.status.SlowConnection = online && rtt >= slowConnectionRTT
	w.status.CheckedAt = time.Now()
	var fns []func(bool)
	if changed {
		fns = make([]func(bool), 0, len(w.subs))
		for _, fn := range w.subs {
			fns = append(fns, fn)
		}
	}
	w.mu.Unlock()

	if changed {
		w.logger.WithField("online", online).Info("Connectivity changed")
		for _, fn := range fns {
			fn(online)
		}
		if online {
			w.refreshPending()
		}
	}
}

func (w *Watcher) pendingLoop(ctx context.Context) {
	ticker := time.NewTicker(pendingPollInterval)
	defer ticker.Stop()

	w.refreshPending()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.refreshPending()
		}
	}
}

func (w *Watcher) refreshPending() {
	w.mu.RLock()
	fn := w.pending
	w.mu.RUnlock()
	if fn == nil {
		return
	}

	count, err := fn()
	if err != nil {
		w.logger.WithError(err).Debug("Failed to count pending mutations")
		return
	}
	w.mu.Lock()
	w.status.PendingMutations = count
	w.mu.Unlock()
}

// effectiveType buckets a probe RTT into the coarse classes the UI shows.
func effectiveType(rtt time.Duration) string {
	switch {
	case rtt <= 0:
		return ""
	case rtt < 150*time.Millisecond:
		return "4g"
	case rtt < slowConnectionRTT:
		return "3g"
	default:
		return "2g"
	}
}
