// Package registry coordinates the set of active monitors and turns their
// events into notifications for the subscribed destinations.
package registry

import (
	"sync"
	"time"

	"github.com/tsmon/tsmon/internal/logging"
	"github.com/tsmon/tsmon/internal/metrics"
	"github.com/tsmon/tsmon/internal/monitor"
	"github.com/tsmon/tsmon/internal/notify"
	"github.com/tsmon/tsmon/internal/store"
	"github.com/tsmon/tsmon/internal/ts3"
)

// Sender hands a rendered message to the notification pipeline.
type Sender interface {
	Dispatch(dests []notify.Destination, msg notify.Message)
}

// DialFunc builds a fresh query session for a server definition.
type DialFunc func(def store.ServerDefinition) ts3.Query

// Registry owns one monitor per watched server, keyed by server name.
type Registry struct {
	store  *store.Store
	sender Sender
	dial   DialFunc
	opts   monitor.Options
	level  string

	mu       sync.Mutex
	monitors map[string]*monitor.Monitor
}

// New builds a registry. level is one of all, events, status, none and gates
// which event kinds reach the sender.
func New(st *store.Store, sender Sender, dial DialFunc, opts monitor.Options, level string) *Registry {
	if level == "" {
		level = "all"
	}
	return &Registry{
		store:    st,
		sender:   sender,
		dial:     dial,
		opts:     opts,
		level:    level,
		monitors: make(map[string]*monitor.Monitor),
	}
}

func (r *Registry) eventsEnabled() bool { return r.level == "all" || r.level == "events" }
func (r *Registry) statusEnabled() bool { return r.level == "all" || r.level == "status" }

// Start launches a monitor for the named server. Starting an already
// monitored server is a no-op returning true.
func (r *Registry) Start(name string) bool {
	def, ok := r.store.Server(name)
	if !ok {
		logging.Get().Warn().Str("server", name).Msg("cannot start monitor for unknown server")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.monitors[name]; exists {
		return true
	}

	m := monitor.New(name, r.dial(def), def.StatusInterval, monitor.Callbacks{
		OnJoin:       r.onJoin,
		OnLeave:      r.onLeave,
		OnStatusTick: r.onStatusTick,
	}, r.opts)
	if !m.Start() {
		return false
	}
	r.monitors[name] = m
	metrics.SetMonitorsRunning(len(r.monitors))
	logging.Get().Info().Str("server", name).Msg("monitor registered")
	return true
}

// Stop halts and discards the monitor for the named server.
func (r *Registry) Stop(name string) bool {
	r.mu.Lock()
	m, ok := r.monitors[name]
	if ok {
		delete(r.monitors, name)
		metrics.SetMonitorsRunning(len(r.monitors))
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	m.Stop()
	return true
}

// Restart stops, then starts, the named server's monitor.
func (r *Registry) Restart(name string) bool {
	r.Stop(name)
	return r.Start(name)
}

// Running reports whether the named server has a connected, polling monitor.
func (r *Registry) Running(name string) bool {
	r.mu.Lock()
	m, ok := r.monitors[name]
	r.mu.Unlock()
	return ok && m.Running()
}

// StartAll launches monitors for every stored server and reports how many
// were started.
func (r *Registry) StartAll() int {
	n := 0
	for name := range r.store.Servers() {
		if r.Start(name) {
			n++
		}
	}
	return n
}

// StopAll halts every monitor and clears the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*monitor.Monitor)
	metrics.SetMonitorsRunning(0)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *monitor.Monitor) {
			defer wg.Done()
			m.Stop()
		}(m)
	}
	wg.Wait()
}

// SetStatusInterval persists a new status cadence for the server and applies
// it to the live monitor, if any.
func (r *Registry) SetStatusInterval(name string, minutes int) bool {
	if !r.store.SetStatusInterval(name, minutes) {
		return false
	}
	r.mu.Lock()
	m, ok := r.monitors[name]
	r.mu.Unlock()
	if ok {
		m.UpdateStatusInterval(minutes)
	}
	return true
}

// destinationsFor resolves the subscriptions for server whose toggle matches
// pick. The mention flag on each destination comes from mention.
func (r *Registry) destinationsFor(server string, pick func(store.Subscription) bool, mention func(store.Subscription) bool) []notify.Destination {
	subs := r.store.Subscriptions(server)
	out := make([]notify.Destination, 0, len(subs))
	for dest, sub := range subs {
		if !pick(sub) {
			continue
		}
		out = append(out, notify.Destination{ID: dest, Mention: mention(sub)})
	}
	return out
}

func noMention(store.Subscription) bool { return false }

func (r *Registry) onJoin(server string, c ts3.Client) {
	if !r.eventsEnabled() {
		return
	}
	dests := r.destinationsFor(server, func(s store.Subscription) bool { return s.NotifyJoin }, noMention)
	if len(dests) == 0 {
		return
	}
	r.sender.Dispatch(dests, notify.BuildJoinMessage(server, c, time.Now()))
}

func (r *Registry) onLeave(server string, c ts3.Client) {
	if !r.eventsEnabled() {
		return
	}
	dests := r.destinationsFor(server, func(s store.Subscription) bool { return s.NotifyLeave }, noMention)
	if len(dests) == 0 {
		return
	}
	r.sender.Dispatch(dests, notify.BuildLeaveMessage(server, c, time.Now()))
}

// onStatusTick re-queries the server over a fresh session so the report
// carries current data rather than the monitor's cached roster.
func (r *Registry) onStatusTick(server string) {
	if !r.statusEnabled() {
		return
	}
	dests := r.destinationsFor(server,
		func(s store.Subscription) bool { return s.NotifyStatus },
		func(s store.Subscription) bool { return s.MentionAll })
	if len(dests) == 0 {
		return
	}

	def, ok := r.store.Server(server)
	if !ok {
		return
	}
	q := r.dial(def)
	if err := q.Connect(); err != nil {
		logging.Get().Warn().Err(err).Str("server", server).Msg("status query connection failed")
		return
	}
	defer q.Disconnect()
	status, err := ts3.FetchStatus(q)
	if err != nil {
		logging.Get().Warn().Err(err).Str("server", server).Msg("status query failed")
		return
	}
	r.sender.Dispatch(dests, notify.BuildStatusMessage(server, status, time.Now()))
}
