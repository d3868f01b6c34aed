package registry

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tsmon/tsmon/internal/monitor"
	"github.com/tsmon/tsmon/internal/notify"
	"github.com/tsmon/tsmon/internal/store"
	"github.com/tsmon/tsmon/internal/ts3"
)

type fakeSender struct {
	mu      sync.Mutex
	batches [][]notify.Destination
	msgs    []notify.Message
}

func (f *fakeSender) Dispatch(dests []notify.Destination, msg notify.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, dests)
	f.msgs = append(f.msgs, msg)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeQuery struct {
	connectErr error
	info       map[string]string
}

func (f *fakeQuery) Connect() error                    { return f.connectErr }
func (f *fakeQuery) Disconnect()                       {}
func (f *fakeQuery) ListClients() ([]ts3.Client, error) { return nil, nil }
func (f *fakeQuery) ListChannels() ([]ts3.Channel, error) { return nil, nil }

func (f *fakeQuery) ServerInfo() (map[string]string, error) {
	if f.info != nil {
		return f.info, nil
	}
	return map[string]string{}, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return st
}

func newTestRegistry(t *testing.T, level string) (*Registry, *store.Store, *fakeSender, *fakeQuery) {
	t.Helper()
	st := newTestStore(t)
	sender := &fakeSender{}
	q := &fakeQuery{}
	dialed := 0
	r := New(st, sender, func(store.ServerDefinition) ts3.Query {
		dialed++
		return q
	}, monitor.Options{
		PollInterval:  time.Millisecond,
		LeaveDebounce: time.Millisecond,
	}, level)
	return r, st, sender, q
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartUnknownServer(t *testing.T) {
	r, _, _, _ := newTestRegistry(t, "all")
	if r.Start("ghost") {
		t.Fatal("Start succeeded for unknown server")
	}
}

func TestStartStopRestart(t *testing.T) {
	r, st, _, _ := newTestRegistry(t, "all")
	st.AddServer(store.ServerDefinition{Name: "main", Host: "ts.example.com"})

	if !r.Start("main") {
		t.Fatal("Start returned false")
	}
	if !r.Start("main") {
		t.Fatal("second Start returned false")
	}
	eventually(t, time.Second, func() bool { return r.Running("main") })

	if !r.Stop("main") {
		t.Fatal("Stop returned false")
	}
	if r.Running("main") {
		t.Fatal("still running after Stop")
	}
	if r.Stop("main") {
		t.Fatal("Stop of stopped server returned true")
	}

	if !r.Restart("main") {
		t.Fatal("Restart returned false")
	}
	eventually(t, time.Second, func() bool { return r.Running("main") })
	r.StopAll()
	if r.Running("main") {
		t.Fatal("still running after StopAll")
	}
}

func TestStartAll(t *testing.T) {
	r, st, _, _ := newTestRegistry(t, "all")
	st.AddServer(store.ServerDefinition{Name: "a", Host: "a.example.com"})
	st.AddServer(store.ServerDefinition{Name: "b", Host: "b.example.com"})

	if got := r.StartAll(); got != 2 {
		t.Fatalf("StartAll = %d, want 2", got)
	}
	r.StopAll()
}

func TestJoinResolvesSubscriptionToggles(t *testing.T) {
	r, st, sender, _ := newTestRegistry(t, "all")
	st.AddServer(store.ServerDefinition{Name: "main", Host: "ts.example.com"})
	st.Subscribe("main", "ops")
	st.Subscribe("main", "muted")
	st.UpdateSubscription("main", "muted", func(s *store.Subscription) { s.NotifyJoin = false })

	r.onJoin("main", ts3.Client{ID: 1, Nickname: "alice"})

	if sender.count() != 1 {
		t.Fatalf("dispatch count = %d, want 1", sender.count())
	}
	batch := sender.batches[0]
	if len(batch) != 1 || batch[0].ID != "ops" {
		t.Fatalf("batch = %v, want [ops]", batch)
	}
	if batch[0].Mention {
		t.Fatal("join notification must not broadcast-mention")
	}
}

func TestEmptyDestinationSetShortCircuits(t *testing.T) {
	r, st, sender, _ := newTestRegistry(t, "all")
	st.AddServer(store.ServerDefinition{Name: "main", Host: "ts.example.com"})

	r.onJoin("main", ts3.Client{ID: 1, Nickname: "alice"})
	r.onLeave("main", ts3.Client{ID: 1, Nickname: "alice"})
	r.onStatusTick("main")

	if sender.count() != 0 {
		t.Fatalf("dispatch count = %d, want 0", sender.count())
	}
}

func TestNotificationLevelGating(t *testing.T) {
	r, st, sender, _ := newTestRegistry(t, "status")
	st.AddServer(store.ServerDefinition{Name: "main", Host: "ts.example.com"})
	st.Subscribe("main", "ops")

	r.onJoin("main", ts3.Client{ID: 1, Nickname: "alice"})
	r.onLeave("main", ts3.Client{ID: 1, Nickname: "alice"})
	if sender.count() != 0 {
		t.Fatalf("events dispatched at status level: %d", sender.count())
	}

	none, st2, sender2, _ := newTestRegistry(t, "none")
	st2.AddServer(store.ServerDefinition{Name: "main", Host: "ts.example.com"})
	st2.Subscribe("main", "ops")
	none.onStatusTick("main")
	none.onJoin("main", ts3.Client{ID: 1, Nickname: "alice"})
	if sender2.count() != 0 {
		t.Fatalf("dispatched at none level: %d", sender2.count())
	}
}

func TestStatusTickQueriesFreshData(t *testing.T) {
	r, st, sender, q := newTestRegistry(t, "all")
	q.info = map[string]string{
		"virtualserver_name":           "Main Server",
		"virtualserver_clientsonline":  "4",
		"virtualserver_maxclients":     "32",
		"virtualserver_channelsonline": "6",
		"virtualserver_uptime":         "3600",
	}
	st.AddServer(store.ServerDefinition{Name: "main", Host: "ts.example.com"})
	st.Subscribe("main", "ops")
	st.UpdateSubscription("main", "ops", func(s *store.Subscription) { s.MentionAll = true })

	r.onStatusTick("main")

	if sender.count() != 1 {
		t.Fatalf("dispatch count = %d, want 1", sender.count())
	}
	if !sender.batches[0][0].Mention {
		t.Fatal("status notification lost the broadcast-mention flag")
	}
	msg := sender.msgs[0]
	if msg.Title != "Server status: main" {
		t.Fatalf("title = %q", msg.Title)
	}
}

func TestSetStatusInterval(t *testing.T) {
	r, st, _, _ := newTestRegistry(t, "all")
	st.AddServer(store.ServerDefinition{Name: "main", Host: "ts.example.com"})

	if !r.SetStatusInterval("main", 15) {
		t.Fatal("SetStatusInterval rejected valid update")
	}
	def, _ := st.Server("main")
	if def.StatusInterval != 15 {
		t.Fatalf("interval = %d, want 15", def.StatusInterval)
	}
	if r.SetStatusInterval("ghost", 15) {
		t.Fatal("SetStatusInterval accepted unknown server")
	}
	if r.SetStatusInterval("main", 0) {
		t.Fatal("SetStatusInterval accepted non-positive interval")
	}
}
