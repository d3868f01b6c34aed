// Package store persists server definitions and per-destination subscription
// settings in a JSON file. Every mutation is written through to disk before
// returning.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tsmon/tsmon/internal/logging"
)

// Defaults applied to new server definitions.
const (
	DefaultQueryPort       = 10011
	DefaultVirtualServerID = 1
	DefaultStatusInterval  = 60 // minutes
)

// ServerDefinition identifies one watched server and how to reach its query
// port. Name is the unique key.
type ServerDefinition struct {
	Name            string    `json:"name" yaml:"name"`
	Host            string    `json:"host" yaml:"host"`
	QueryPort       int       `json:"query_port" yaml:"query_port"`
	QueryUser       string    `json:"query_user" yaml:"query_user"`
	QueryPassword   string    `json:"query_password" yaml:"query_password"`
	VirtualServerID int       `json:"virtual_server_id" yaml:"virtual_server_id"`
	StatusInterval  int       `json:"status_interval" yaml:"status_interval"` // minutes
	AddedBy         string    `json:"added_by,omitempty" yaml:"added_by,omitempty"`
	AddedAt         time.Time `json:"added_at,omitempty" yaml:"added_at,omitempty"`
}

// normalize fills zero-valued connection fields with defaults.
func (d *ServerDefinition) normalize() {
	if d.QueryPort == 0 {
		d.QueryPort = DefaultQueryPort
	}
	if d.VirtualServerID == 0 {
		d.VirtualServerID = DefaultVirtualServerID
	}
	if d.StatusInterval <= 0 {
		d.StatusInterval = DefaultStatusInterval
	}
}

// Subscription holds the per (server, destination) notification toggles.
type Subscription struct {
	NotifyJoin   bool `json:"notify_join" yaml:"notify_join"`
	NotifyLeave  bool `json:"notify_leave" yaml:"notify_leave"`
	NotifyStatus bool `json:"notify_status" yaml:"notify_status"`
	MentionAll   bool `json:"mention_all" yaml:"mention_all"` // status reports only
}

// DefaultSubscription is the state a fresh subscription starts in.
func DefaultSubscription() Subscription {
	return Subscription{NotifyJoin: true, NotifyLeave: true, NotifyStatus: true}
}

type fileFormat struct {
	Servers       map[string]ServerDefinition        `json:"servers"`
	Subscriptions map[string]map[string]Subscription `json:"subscriptions"`
}

// Store is a mutex-protected, write-through view of the data file.
type Store struct {
	path string

	mu      sync.RWMutex
	servers map[string]ServerDefinition
	subs    map[string]map[string]Subscription // server -> destination -> settings
}

// Open loads the store from path. A missing file yields an empty store; a
// corrupt file is logged and treated as empty rather than failing startup.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty data file path")
	}
	s := &Store{
		path:    path,
		servers: make(map[string]ServerDefinition),
		subs:    make(map[string]map[string]Subscription),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		logging.Get().Error().Err(err).Str("path", path).Msg("data file is corrupt, starting empty")
		return s, nil
	}
	if f.Servers != nil {
		s.servers = f.Servers
	}
	if f.Subscriptions != nil {
		s.subs = f.Subscriptions
	}
	return s, nil
}

// save writes the current state to disk. Caller must hold the write lock.
func (s *Store) save() {
	f := fileFormat{Servers: s.servers, Subscriptions: s.subs}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		logging.Get().Error().Err(err).Msg("failed to marshal data file")
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		logging.Get().Error().Err(err).Str("path", s.path).Msg("failed to create data directory")
		return
	}
	if err := os.WriteFile(s.path, b, 0o640); err != nil {
		logging.Get().Error().Err(err).Str("path", s.path).Msg("failed to write data file")
	}
}

// AddServer registers or replaces a server definition and ensures its
// subscription bucket exists.
func (s *Store) AddServer(def ServerDefinition) {
	def.normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[def.Name] = def
	if _, ok := s.subs[def.Name]; !ok {
		s.subs[def.Name] = make(map[string]Subscription)
	}
	s.save()
}

// RemoveServer deletes a server and all its subscriptions. Returns false when
// the server is unknown.
func (s *Store) RemoveServer(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[name]; !ok {
		return false
	}
	delete(s.servers, name)
	delete(s.subs, name)
	s.save()
	return true
}

// Server looks up one definition by name.
func (s *Store) Server(name string) (ServerDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.servers[name]
	return def, ok
}

// HasServer reports whether a server is registered.
func (s *Store) HasServer(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.servers[name]
	return ok
}

// Servers returns a copy of all definitions keyed by name.
func (s *Store) Servers() map[string]ServerDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ServerDefinition, len(s.servers))
	for k, v := range s.servers {
		out[k] = v
	}
	return out
}

// SetStatusInterval updates a server's status report interval in minutes.
func (s *Store) SetStatusInterval(name string, minutes int) bool {
	if minutes <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.servers[name]
	if !ok {
		return false
	}
	def.StatusInterval = minutes
	s.servers[name] = def
	s.save()
	return true
}

// Subscribe creates a default subscription for (server, destination). Returns
// false when the pair is already subscribed.
func (s *Store) Subscribe(server, destination string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.subs[server]
	if !ok {
		bucket = make(map[string]Subscription)
		s.subs[server] = bucket
	}
	if _, ok := bucket[destination]; ok {
		return false
	}
	bucket[destination] = DefaultSubscription()
	s.save()
	return true
}

// Unsubscribe removes a subscription. Returns false when it did not exist.
func (s *Store) Unsubscribe(server, destination string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.subs[server]
	if !ok {
		return false
	}
	if _, ok := bucket[destination]; !ok {
		return false
	}
	delete(bucket, destination)
	s.save()
	return true
}

// Subscription returns the settings for one (server, destination) pair.
func (s *Store) Subscription(server, destination string) (Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[server][destination]
	return sub, ok
}

// Subscriptions returns a copy of all subscriptions for a server.
func (s *Store) Subscriptions(server string) map[string]Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Subscription, len(s.subs[server]))
	for dest, sub := range s.subs[server] {
		out[dest] = sub
	}
	return out
}

// UpdateSubscription applies fn to an existing subscription and persists the
// result. Returns false when the pair is not subscribed.
func (s *Store) UpdateSubscription(server, destination string, fn func(*Subscription)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.subs[server]
	if !ok {
		return false
	}
	sub, ok := bucket[destination]
	if !ok {
		return false
	}
	fn(&sub)
	bucket[destination] = sub
	s.save()
	return true
}

// DestinationServers lists the servers a destination is subscribed to.
func (s *Store) DestinationServers(destination string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for server, bucket := range s.subs {
		if _, ok := bucket[destination]; ok {
			out = append(out, server)
		}
	}
	return out
}

// TotalSubscriptions counts subscriptions across all servers.
func (s *Store) TotalSubscriptions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, bucket := range s.subs {
		n += len(bucket)
	}
	return n
}
