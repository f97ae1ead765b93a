package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TimeoutClass selects how long a turn may take before it is considered stalled.
type TimeoutClass string

const (
	TimeoutNormal  TimeoutClass = "normal"
	TimeoutInitial TimeoutClass = "initial"
	TimeoutTool    TimeoutClass = "tool"
)

type Timeouts struct {
	Normal  time.Duration
	Initial time.Duration
	Tool    time.Duration
}

var DefaultTimeouts = Timeouts{
	Normal:  30 * time.Second,
	Initial: 45 * time.Second,
	Tool:    60 * time.Second,
}

func (t Timeouts) For(class TimeoutClass) time.Duration {
	switch class {
	case TimeoutInitial:
		return t.Initial
	case TimeoutTool:
		return t.Tool
	default:
		return t.Normal
	}
}

type pendingTurn struct {
	timer *clock.Timer
	gen   uint64
}

// Monitor arms a deadline per in-flight turn and reports the ones that expire.
type Monitor struct {
	clock    clock.Clock
	timeouts Timeouts
	logger   *slog.Logger

	mu        sync.Mutex
	gen       uint64
	pending   map[string]pendingTurn
	callbacks []func(turnID string)
}

func NewMonitor(clk clock.Clock, timeouts Timeouts, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		clock:    clk,
		timeouts: timeouts,
		logger:   logger,
		pending:  make(map[string]pendingTurn),
	}
}

// OnTimeout registers fn to run, on its own goroutine, when a turn's deadline passes.
func (m *Monitor) OnTimeout(fn func(turnID string)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// Start arms the deadline for turnID, replacing any earlier one.
func (m *Monitor) Start(turnID string, class TimeoutClass) {
	d := m.timeouts.For(class)
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[turnID]; ok {
		p.timer.Stop()
	}
	m.gen++
	gen := m.gen
	timer := m.clock.AfterFunc(d, func() { m.fire(turnID, gen) })
	m.pending[turnID] = pendingTurn{timer: timer, gen: gen}
}

// Cancel disarms turnID. It reports whether a deadline was pending.
func (m *Monitor) Cancel(turnID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[turnID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(m.pending, turnID)
	return true
}

// Pending returns the number of armed deadlines.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Monitor) fire(turnID string, gen uint64) {
	m.mu.Lock()
	p, ok := m.pending[turnID]
	if !ok || p.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.pending, turnID)
	callbacks := append([]func(string){}, m.callbacks...)
	m.mu.Unlock()

	m.logger.Warn("response timed out", "turn_id", turnID)
	for _, cb := range callbacks {
		cb(turnID)
	}
}
