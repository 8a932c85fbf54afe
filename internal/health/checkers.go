package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is anything with a reachability probe (Redis store, DB client).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker wraps a Pinger as a health check.
type PingChecker struct {
	name     string
	target   Pinger
	critical bool
}

// NewPingChecker creates a reachability check for a backend.
func NewPingChecker(name string, target Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, target: target, critical: critical}
}

func (p *PingChecker) Name() string     { return p.name }
func (p *PingChecker) IsCritical() bool { return p.critical }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{
		Component: p.name,
		Critical:  p.critical,
		Timestamp: start,
	}
	if err := p.target.Ping(ctx); err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	} else {
		res.Status = StatusHealthy
	}
	res.Duration = time.Since(start)
	return res
}

// HeartbeatSource exposes a liveness timestamp, refreshed by a loop.
type HeartbeatSource interface {
	LastHeartbeat() time.Time
}

// HeartbeatChecker fails when the source's heartbeat goes stale, meaning its
// loop has stalled even though the process is up.
type HeartbeatChecker struct {
	name     string
	source   HeartbeatSource
	maxAge   time.Duration
	critical bool
}

// NewHeartbeatChecker creates a staleness check against the source.
func NewHeartbeatChecker(name string, source HeartbeatSource, maxAge time.Duration) *HeartbeatChecker {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &HeartbeatChecker{name: name, source: source, maxAge: maxAge, critical: true}
}

func (h *HeartbeatChecker) Name() string     { return h.name }
func (h *HeartbeatChecker) IsCritical() bool { return h.critical }

func (h *HeartbeatChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{
		Component: h.name,
		Critical:  h.critical,
		Timestamp: start,
	}

	last := h.source.LastHeartbeat()
	age := time.Since(last)
	switch {
	case last.IsZero():
		res.Status = StatusDegraded
		res.Message = "no heartbeat recorded yet"
	case age > h.maxAge:
		res.Status = StatusUnhealthy
		res.Error = fmt.Sprintf("heartbeat stale by %s", age-h.maxAge)
	default:
		res.Status = StatusHealthy
		res.Message = fmt.Sprintf("last heartbeat %s ago", age.Round(time.Millisecond))
	}
	res.Duration = time.Since(start)
	return res
}
