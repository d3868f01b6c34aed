package store

import (
	"os"
	"path/filepath"
	"testing"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tsmon_data.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s, path
}

func TestServerCRUD(t *testing.T) {
	s, path := tempStore(t)

	def := ServerDefinition{Name: "lan", Host: "ts.example.com", QueryUser: "serveradmin", QueryPassword: "x"}
	s.AddServer(def)

	got, ok := s.Server("lan")
	if !ok {
		t.Fatal("expected server to exist")
	}
	if got.QueryPort != DefaultQueryPort || got.VirtualServerID != DefaultVirtualServerID || got.StatusInterval != DefaultStatusInterval {
		t.Errorf("defaults not applied: %+v", got)
	}

	if !s.SetStatusInterval("lan", 30) {
		t.Fatal("SetStatusInterval failed")
	}
	got, _ = s.Server("lan")
	if got.StatusInterval != 30 {
		t.Errorf("expected interval 30, got %d", got.StatusInterval)
	}
	if s.SetStatusInterval("lan", 0) {
		t.Error("zero interval should be rejected")
	}
	if s.SetStatusInterval("nope", 10) {
		t.Error("unknown server should be rejected")
	}

	// Reload from disk: mutations must have been written through.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok = s2.Server("lan")
	if !ok || got.StatusInterval != 30 {
		t.Fatalf("persisted server mismatch: %+v ok=%v", got, ok)
	}

	if !s2.RemoveServer("lan") {
		t.Fatal("RemoveServer failed")
	}
	if s2.RemoveServer("lan") {
		t.Error("second remove should return false")
	}
	if s2.HasServer("lan") {
		t.Error("server should be gone")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	s, _ := tempStore(t)
	s.AddServer(ServerDefinition{Name: "lan", Host: "h"})

	if !s.Subscribe("lan", "ops-discord") {
		t.Fatal("Subscribe failed")
	}
	if s.Subscribe("lan", "ops-discord") {
		t.Error("duplicate subscribe should return false")
	}

	sub, ok := s.Subscription("lan", "ops-discord")
	if !ok {
		t.Fatal("subscription missing")
	}
	if !sub.NotifyJoin || !sub.NotifyLeave || !sub.NotifyStatus || sub.MentionAll {
		t.Errorf("unexpected defaults: %+v", sub)
	}

	ok = s.UpdateSubscription("lan", "ops-discord", func(c *Subscription) {
		c.NotifyJoin = false
		c.MentionAll = true
	})
	if !ok {
		t.Fatal("UpdateSubscription failed")
	}
	sub, _ = s.Subscription("lan", "ops-discord")
	if sub.NotifyJoin || !sub.MentionAll {
		t.Errorf("toggles not applied: %+v", sub)
	}

	if s.UpdateSubscription("lan", "ghost", func(*Subscription) {}) {
		t.Error("updating unknown destination should return false")
	}

	s.Subscribe("lan", "chat-telegram")
	if n := s.TotalSubscriptions(); n != 2 {
		t.Errorf("expected 2 subscriptions, got %d", n)
	}
	servers := s.DestinationServers("ops-discord")
	if len(servers) != 1 || servers[0] != "lan" {
		t.Errorf("unexpected destination servers: %v", servers)
	}

	if !s.Unsubscribe("lan", "ops-discord") {
		t.Fatal("Unsubscribe failed")
	}
	if s.Unsubscribe("lan", "ops-discord") {
		t.Error("second unsubscribe should return false")
	}
}

func TestRemoveServerDropsSubscriptions(t *testing.T) {
	s, _ := tempStore(t)
	s.AddServer(ServerDefinition{Name: "lan", Host: "h"})
	s.Subscribe("lan", "d1")
	s.RemoveServer("lan")
	if n := s.TotalSubscriptions(); n != 0 {
		t.Errorf("expected 0 subscriptions after server removal, got %d", n)
	}
}

func TestOpenCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tsmon_data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o640); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("corrupt file should not fail Open: %v", err)
	}
	if len(s.Servers()) != 0 {
		t.Error("expected empty store")
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
