// Package ratelimit enforces per-toolkit sliding-window call limits.
//
// Counts are always derived from range queries over an append-only usage
// log; the limiter keeps no running counters, so a restart or a second
// process sharing the same log sees the same windows.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
)

// Limits bounds the calls to one toolkit. Zero means unlimited.
type Limits struct {
	PerMinute int `json:"perMinute" yaml:"perMinute"`
	PerHour   int `json:"perHour" yaml:"perHour"`
}

// Unlimited reports whether neither window is bounded.
func (l Limits) Unlimited() bool {
	return l.PerMinute <= 0 && l.PerHour <= 0
}

// Counts holds the calls observed in each window.
type Counts struct {
	LastMinute int `json:"lastMinute"`
	LastHour   int `json:"lastHour"`
}

// Verdict is the outcome of Acquire.
type Verdict struct {
	Toolkit    string
	Allowed    bool
	Limits     Limits
	Counts     Counts // includes the acquired call when Allowed
	Window     string // "minute" or "hour" when denied
	RetryAfter time.Duration
}

// MinuteRatio is the fraction of the per-minute limit in use, or 0 when unbounded.
func (v Verdict) MinuteRatio() float64 {
	if v.Limits.PerMinute <= 0 {
		return 0
	}
	return float64(v.Counts.LastMinute) / float64(v.Limits.PerMinute)
}

// HourRatio is the fraction of the per-hour limit in use, or 0 when unbounded.
func (v Verdict) HourRatio() float64 {
	if v.Limits.PerHour <= 0 {
		return 0
	}
	return float64(v.Counts.LastHour) / float64(v.Limits.PerHour)
}

// UsageLog is the append-only store the windows are computed from.
type UsageLog interface {
	AppendUsage(ctx context.Context, toolkit, sessionID string, ts time.Time) error
	// CountUsage counts calls strictly after since.
	CountUsage(ctx context.Context, toolkit string, since time.Time) (int, error)
}

// Limiter checks and records toolkit usage.
type Limiter struct {
	log UsageLog

	mu     sync.Mutex
	limits map[string]Limits
	locks  map[string]*sync.Mutex
}

// New creates a limiter over log with the given per-toolkit limits.
func New(log UsageLog, limits map[string]Limits) *Limiter {
	l := &Limiter{
		log:    log,
		limits: make(map[string]Limits, len(limits)),
		locks:  make(map[string]*sync.Mutex),
	}
	for name, lim := range limits {
		l.limits[normalize(name)] = lim
	}
	return l
}

// SetLimits replaces the limits of one toolkit.
func (l *Limiter) SetLimits(toolkit string, lim Limits) {
	l.mu.Lock()
	l.limits[normalize(toolkit)] = lim
	l.mu.Unlock()
}

// LimitsFor returns the limits of toolkit; ok is false when none are configured.
func (l *Limiter) LimitsFor(toolkit string) (Limits, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limits[normalize(toolkit)]
	return lim, ok
}

// Toolkits returns the toolkits that have configured limits.
func (l *Limiter) Toolkits() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.limits))
	for name := range l.limits {
		out = append(out, name)
	}
	return out
}

func (l *Limiter) lockFor(toolkit string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[toolkit]
	if !ok {
		m = &sync.Mutex{}
		l.locks[toolkit] = m
	}
	return m
}

// Record appends one call without checking limits.
func (l *Limiter) Record(ctx context.Context, toolkit, sessionID string, now time.Time) error {
	if err := l.log.AppendUsage(ctx, normalize(toolkit), sessionID, now); err != nil {
		return fmt.Errorf("record usage for %s: %w", toolkit, err)
	}
	return nil
}

// CountsSince returns the calls to toolkit in the minute and hour before now.
func (l *Limiter) CountsSince(ctx context.Context, toolkit string, now time.Time) (Counts, error) {
	toolkit = normalize(toolkit)
	minute, err := l.log.CountUsage(ctx, toolkit, now.Add(-MinuteWindow))
	if err != nil {
		return Counts{}, fmt.Errorf("count minute usage for %s: %w", toolkit, err)
	}
	hour, err := l.log.CountUsage(ctx, toolkit, now.Add(-HourWindow))
	if err != nil {
		return Counts{}, fmt.Errorf("count hour usage for %s: %w", toolkit, err)
	}
	return Counts{LastMinute: minute, LastHour: hour}, nil
}

// Acquire checks both windows and, when the call fits, appends it before
// returning. Check and append are serialised per toolkit so concurrent
// callers cannot both take the last slot.
//
// RetryAfter on denial is the full window length rather than the time until
// the oldest record ages out.
func (l *Limiter) Acquire(ctx context.Context, toolkit, sessionID string, now time.Time) (Verdict, error) {
	toolkit = normalize(toolkit)
	lock := l.lockFor(toolkit)
	lock.Lock()
	defer lock.Unlock()

	v, err := l.check(ctx, toolkit, now)
	if err != nil || v.Window != "" {
		return v, err
	}

	if err := l.Record(ctx, toolkit, sessionID, now); err != nil {
		return v, err
	}
	v.Allowed = true
	v.Counts.LastMinute++
	v.Counts.LastHour++
	return v, nil
}

// Peek reports what Acquire would decide without recording anything.
// Counts are those before the call.
func (l *Limiter) Peek(ctx context.Context, toolkit string, now time.Time) (Verdict, error) {
	v, err := l.check(ctx, normalize(toolkit), now)
	if err == nil && v.Window == "" {
		v.Allowed = true
	}
	return v, err
}

func (l *Limiter) check(ctx context.Context, toolkit string, now time.Time) (Verdict, error) {
	lim, _ := l.LimitsFor(toolkit)
	v := Verdict{Toolkit: toolkit, Limits: lim}
	counts, err := l.CountsSince(ctx, toolkit, now)
	if err != nil {
		return v, err
	}
	v.Counts = counts

	switch {
	case lim.PerMinute > 0 && counts.LastMinute >= lim.PerMinute:
		v.Window = "minute"
		v.RetryAfter = MinuteWindow
	case lim.PerHour > 0 && counts.LastHour >= lim.PerHour:
		v.Window = "hour"
		v.RetryAfter = HourWindow
	}
	return v, nil
}

// Preview adapts a Limiter so Acquire only peeks. It lets a policy chain
// be evaluated as a dry run.
type Preview struct {
	*Limiter
}

func (p Preview) Acquire(ctx context.Context, toolkit, _ string, now time.Time) (Verdict, error) {
	return p.Peek(ctx, toolkit, now)
}

func normalize(toolkit string) string {
	return strings.ToLower(strings.TrimSpace(toolkit))
}
