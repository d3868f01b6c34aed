// Package monitor owns the per-server polling loop: roster diffing with
// debounced leave confirmation, periodic status ticks, and reconnect handling.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/tsmon/tsmon/internal/logging"
	"github.com/tsmon/tsmon/internal/metrics"
	"github.com/tsmon/tsmon/internal/ts3"
)

// Callbacks are invoked synchronously from the polling goroutine. Owners must
// not block significantly inside them; panics are recovered and logged.
type Callbacks struct {
	OnJoin       func(serverName string, client ts3.Client)
	OnLeave      func(serverName string, client ts3.Client)
	OnStatusTick func(serverName string)
}

// Options tune the monitor's timing and failure bounds.
type Options struct {
	PollInterval     time.Duration // cadence of roster polls
	LeaveDebounce    time.Duration // absence time before a leave is confirmed
	ConnectAttempts  int           // initial connection attempts before giving up
	ConnectBackoff   time.Duration // delay between initial connection attempts
	MaxCycleFailures int           // consecutive cycle failures before stopping
	ReconnectPenalty time.Duration // delay after a failed mid-run reconnect
	StopTimeout      time.Duration // bound on Stop's wait for loop exit
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.LeaveDebounce <= 0 {
		o.LeaveDebounce = 5 * time.Second
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 5
	}
	if o.ConnectBackoff <= 0 {
		o.ConnectBackoff = 30 * time.Second
	}
	if o.MaxCycleFailures <= 0 {
		o.MaxCycleFailures = 5
	}
	if o.ReconnectPenalty <= 0 {
		o.ReconnectPenalty = 30 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
}

// pendingLeave records a known client that went missing and when.
type pendingLeave struct {
	client ts3.Client
	since  time.Time
}

// Monitor runs one background polling loop for a single server. The known and
// pending maps are owned exclusively by that loop; an id lives in exactly one
// of the two maps at any time.
type Monitor struct {
	serverName string
	client     ts3.Query
	opts       Options
	cb         Callbacks

	mu       sync.Mutex
	started  bool
	stopping bool
	running  bool
	quit     chan struct{}
	done     chan struct{}

	statusMu       sync.Mutex
	statusInterval time.Duration

	known      map[int]ts3.Client
	pending    map[int]pendingLeave
	lastStatus time.Time

	Now func() time.Time // injectable clock for testing
}

// New builds a monitor for one server. statusIntervalMinutes controls the
// cadence of status ticks.
func New(serverName string, client ts3.Query, statusIntervalMinutes int, cb Callbacks, opts Options) *Monitor {
	opts.applyDefaults()
	if statusIntervalMinutes <= 0 {
		statusIntervalMinutes = 60
	}
	return &Monitor{
		serverName:     serverName,
		client:         client,
		opts:           opts,
		cb:             cb,
		statusInterval: time.Duration(statusIntervalMinutes) * time.Minute,
		known:          make(map[int]ts3.Client),
		pending:        make(map[int]pendingLeave),
		Now:            time.Now,
	}
}

// Start spawns the polling loop. It is idempotent: a second Start while the
// loop is alive is a no-op returning true. It returns false only when the
// query client is missing.
func (m *Monitor) Start() bool {
	if m.client == nil {
		logging.Get().Error().Str("server", m.serverName).Msg("no query client, cannot start monitor")
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return true
	}
	m.started = true
	m.stopping = false
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.known = make(map[int]ts3.Client)
	m.pending = make(map[int]pendingLeave)
	go m.run()
	return true
}

// Stop signals the loop to exit and waits (bounded) for it to finish. Safe to
// call repeatedly and on a monitor that never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.known = make(map[int]ts3.Client)
		m.pending = make(map[int]pendingLeave)
		m.mu.Unlock()
		return
	}
	if !m.stopping {
		m.stopping = true
		close(m.quit)
	}
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(m.opts.StopTimeout):
		logging.Get().Warn().Str("server", m.serverName).Msg("timed out waiting for polling loop to exit")
	}

	m.mu.Lock()
	m.started = false
	m.running = false
	m.mu.Unlock()
	logging.Get().Info().Str("server", m.serverName).Msg("monitor stopped")
}

// Running reports whether the loop is connected and polling.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// UpdateStatusInterval changes the status tick cadence. Takes effect at the
// next tick check; it never re-triggers an immediate tick.
func (m *Monitor) UpdateStatusInterval(minutes int) {
	if minutes <= 0 {
		return
	}
	m.statusMu.Lock()
	m.statusInterval = time.Duration(minutes) * time.Minute
	m.statusMu.Unlock()
	logging.Get().Info().Str("server", m.serverName).Int("minutes", minutes).Msg("status interval updated")
}

func (m *Monitor) run() {
	defer close(m.done)
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.client.Disconnect()
		// loop owns these maps; cleared only after the loop is done with them
		m.known = make(map[int]ts3.Client)
		m.pending = make(map[int]pendingLeave)
	}()

	if !m.connectWithRetry() {
		return
	}

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	logging.Get().Info().Str("server", m.serverName).Msg("monitor started")

	// Seed the known set so the initial roster does not fire join events.
	if clients, err := m.client.ListClients(); err != nil {
		logging.Get().Warn().Err(err).Str("server", m.serverName).Msg("initial client listing failed, starting empty")
	} else {
		for _, c := range clients {
			m.known[c.ID] = c
		}
	}
	logging.Get().Info().Str("server", m.serverName).Int("online", len(m.known)).Msg("initial roster seeded")
	m.lastStatus = m.Now()

	failures := 0
	for {
		if m.stopRequested() {
			return
		}
		if err := m.pollOnce(); err != nil {
			failures++
			metrics.IncPollFailure()
			logging.Get().Error().Err(err).Str("server", m.serverName).Int("failures", failures).Msg("poll cycle failed")
			if failures >= m.opts.MaxCycleFailures {
				logging.Get().Error().Str("server", m.serverName).Msg("too many consecutive poll failures, stopping monitor")
				return
			}
			// The failed cycle was already counted; a failed reconnect only
			// costs the penalty delay, not another increment.
			m.client.Disconnect()
			if cerr := m.client.Connect(); cerr != nil {
				logging.Get().Warn().Err(cerr).Str("server", m.serverName).Msg("reconnect failed, backing off")
				if !m.wait(m.opts.ReconnectPenalty) {
					return
				}
				continue
			}
			metrics.IncReconnect()
			failures = 0
			continue
		}
		failures = 0
		metrics.SetLastPoll(m.Now())
		if !m.wait(m.opts.PollInterval) {
			return
		}
	}
}

// connectWithRetry performs the initial connection with a bounded number of
// attempts. Exceeding the bound is fatal for this monitor.
func (m *Monitor) connectWithRetry() bool {
	for attempt := 1; ; attempt++ {
		if m.stopRequested() {
			return false
		}
		err := m.client.Connect()
		if err == nil {
			return true
		}
		if attempt >= m.opts.ConnectAttempts {
			logging.Get().Error().Err(err).Str("server", m.serverName).Msg("connection failed too many times, monitor will not start")
			return false
		}
		logging.Get().Warn().Err(err).Str("server", m.serverName).
			Str("retry_in", m.opts.ConnectBackoff.String()).
			Int("attempt", attempt).Int("max", m.opts.ConnectAttempts).
			Msg("connection failed, will retry")
		if !m.wait(m.opts.ConnectBackoff) {
			return false
		}
	}
}

// pollOnce runs one poll cycle: join detection, leave marking, debounce
// confirmation, then the status tick check.
func (m *Monitor) pollOnce() error {
	clients, err := m.client.ListClients()
	if err != nil {
		return err
	}
	now := m.Now()

	current := make(map[int]ts3.Client, len(clients))
	for _, c := range clients {
		current[c.ID] = c
	}

	// Reappearance cancels a pending leave; a genuinely new id is a join.
	for id, c := range current {
		if _, ok := m.pending[id]; ok {
			delete(m.pending, id)
			m.known[id] = c
			logging.Get().Debug().Str("server", m.serverName).Str("client", c.Nickname).Msg("client reappeared, leave cancelled")
			continue
		}
		if _, ok := m.known[id]; !ok {
			m.known[id] = c
			logging.Get().Info().Str("server", m.serverName).Str("client", c.Nickname).Msg("client joined")
			metrics.IncJoin()
			m.fire("join", func() {
				if m.cb.OnJoin != nil {
					m.cb.OnJoin(m.serverName, c)
				}
			})
		}
	}

	// Missing known ids move to the pending set until the debounce window
	// either confirms the leave or a reappearance cancels it.
	for id, c := range m.known {
		if _, ok := current[id]; ok {
			continue
		}
		delete(m.known, id)
		m.pending[id] = pendingLeave{client: c, since: now}
		logging.Get().Debug().Str("server", m.serverName).Str("client", c.Nickname).Msg("client missing, awaiting leave confirmation")
	}

	for id, pl := range m.pending {
		if now.Sub(pl.since) < m.opts.LeaveDebounce {
			continue
		}
		delete(m.pending, id)
		c := pl.client
		logging.Get().Info().Str("server", m.serverName).Str("client", c.Nickname).Msg("client left")
		metrics.IncLeave()
		m.fire("leave", func() {
			if m.cb.OnLeave != nil {
				m.cb.OnLeave(m.serverName, c)
			}
		})
	}

	m.statusMu.Lock()
	interval := m.statusInterval
	m.statusMu.Unlock()
	if now.Sub(m.lastStatus) >= interval {
		m.lastStatus = now
		logging.Get().Info().Str("server", m.serverName).Msg("status tick")
		metrics.IncStatusTick()
		m.fire("status", func() {
			if m.cb.OnStatusTick != nil {
				m.cb.OnStatusTick(m.serverName)
			}
		})
	}
	return nil
}

// fire runs a callback with panic isolation so a faulty owner cannot abort
// the polling loop.
func (m *Monitor) fire(kind string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get().Error().Str("server", m.serverName).Str("callback", kind).
				Err(fmt.Errorf("%v", r)).Msg("event callback panicked")
		}
	}()
	f()
}

// wait sleeps for d, returning false when a stop was requested first.
func (m *Monitor) wait(d time.Duration) bool {
	select {
	case <-m.quit:
		return false
	case <-time.After(d):
		return true
	}
}

func (m *Monitor) stopRequested() bool {
	select {
	case <-m.quit:
		return true
	default:
		return false
	}
}
