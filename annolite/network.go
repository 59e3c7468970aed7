// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annolite

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ManualNetwork is a NetworkMonitor driven by explicit SetOnline calls.
// It backs tests and hosts that learn about connectivity from the platform
// (mobile reachability callbacks, OS signals) rather than by probing.
type ManualNetwork struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewManualNetwork creates a monitor with the given initial state.
func NewManualNetwork(online bool) *ManualNetwork {
	return &ManualNetwork{online: online, subs: make(map[int]func(bool))}
}

// Online reports the current connectivity state.
func (m *ManualNetwork) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the state and notifies subscribers on every transition.
func (m *ManualNetwork) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// OnChange registers a transition callback and returns its unsubscribe.
func (m *ManualNetwork) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// ProbeMonitor is a NetworkMonitor that decides connectivity by polling a
// health URL on a fixed interval. Transitions fire the registered
// callbacks; steady states do not.
type ProbeMonitor struct {
	state    *ManualNetwork
	probeURL string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewProbeMonitor creates a probe-based monitor. The monitor starts
// offline until the first successful probe; call Start to begin polling.
func NewProbeMonitor(probeURL string, interval time.Duration, logger *slog.Logger) *ProbeMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ProbeMonitor{
		state:    NewManualNetwork(false),
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

// Online reports the last probed connectivity state.
func (p *ProbeMonitor) Online() bool { return p.state.Online() }

// OnChange registers a transition callback and returns its unsubscribe.
func (p *ProbeMonitor) OnChange(fn func(online bool)) func() { return p.state.OnChange(fn) }

// Start probes immediately and then on every tick until ctx is cancelled.
func (p *ProbeMonitor) Start(ctx context.Context) {
	go func() {
		p.probe(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probe(ctx)
			}
		}
	}()
}

func (p *ProbeMonitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.probeURL, nil)
	if err != nil {
		p.logger.Warn("Failed to create probe request", "url", p.probeURL, "error", err)
		return
	}

	resp, err := p.client.Do(req)
	online := false
	if err == nil {
		online = resp.StatusCode >= 200 && resp.StatusCode < 300
		resp.Body.Close()
	}

	if online != p.state.Online() {
		p.logger.Info("Connectivity changed", "online", online, "probe_url", p.probeURL)
	}
	p.state.SetOnline(online)
}
