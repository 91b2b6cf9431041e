// Package store holds the reactive client state. Each Store is independent;
// components receive the instance they should write to.
package store

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/mcperr"
)

const (
	DefaultMaxErrors = 100
	DefaultMaxLogs   = 500
)

// Change is delivered to subscribers after a mutation completes
type Change struct {
	Sections []Section
	State    *State
}

// Has reports whether the change touched section
func (c Change) Has(section Section) bool {
	return slices.Contains(c.Sections, section)
}

// Listener receives changes
type Listener func(Change)

type subscription struct {
	id       uint64
	sections []Section // empty means all
	fn       Listener
}

func (s *subscription) wants(changed []Section) bool {
	if len(s.sections) == 0 {
		return true
	}
	for _, sec := range s.sections {
		if slices.Contains(changed, sec) {
			return true
		}
	}
	return false
}

// Options configures a Store
type Options struct {
	MaxErrors int // per category
	MaxLogs   int
}

// Store serialises mutations and notifies subscribers once per mutation (or
// per Batch). Changes are delivered in commit order and a listener is never
// called concurrently with another delivery. A mutation made from inside a
// listener is delivered after that listener returns.
type Store struct {
	mu        sync.Mutex
	state     atomic.Pointer[State]
	subs      []*subscription
	nextSubID uint64

	// committed changes waiting for delivery; delivering is set while one
	// goroutine drains them
	pending    []Change
	delivering bool

	maxErrors int
	maxLogs   int
}

// New creates an empty store
func New(opts Options) *Store {
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.MaxLogs <= 0 {
		opts.MaxLogs = DefaultMaxLogs
	}
	s := &Store{maxErrors: opts.MaxErrors, maxLogs: opts.MaxLogs}
	s.state.Store(initialState())
	return s
}

// Snapshot returns the current immutable state. This is a lock-free read.
func (s *Store) Snapshot() *State {
	return s.state.Load()
}

// Subscribe registers fn for changes touching any of sections (all sections when none are given).
// The returned function removes the subscription.
func (s *Store) Subscribe(fn Listener, sections ...Section) func() {
	s.mu.Lock()
	s.nextSubID++
	sub := &subscription{id: s.nextSubID, sections: slices.Clone(sections), fn: fn}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs = slices.DeleteFunc(s.subs, func(x *subscription) bool { return x.id == sub.id })
		})
	}
}

// Batch applies every mutation made through tx and notifies once for the union of changed sections
func (s *Store) Batch(fn func(tx *Tx)) {
	if s.commit(fn) {
		s.deliver()
	}
}

// commit applies fn and queues the resulting change. It reports whether the
// caller has to drain the queue.
func (s *Store) commit(fn func(tx *Tx)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := *s.state.Load()
	tx := &Tx{store: s, state: &draft}
	fn(tx)
	if len(tx.changed) == 0 {
		return false
	}
	s.state.Store(tx.state)

	changed := make([]Section, 0, len(tx.changed))
	for _, sec := range AllSections {
		if _, ok := tx.changed[sec]; ok {
			changed = append(changed, sec)
		}
	}
	s.pending = append(s.pending, Change{Sections: changed, State: tx.state})
	if s.delivering {
		return false
	}
	s.delivering = true
	return true
}

// deliver hands queued changes to subscribers until the queue is empty
func (s *Store) deliver() {
	drained := false
	defer func() {
		if !drained {
			// a listener panicked; the next commit resumes delivery
			s.mu.Lock()
			s.delivering = false
			s.mu.Unlock()
		}
	}()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.delivering = false
			s.mu.Unlock()
			drained = true
			return
		}
		change := s.pending[0]
		s.pending[0] = Change{}
		s.pending = s.pending[1:]
		subs := slices.Clone(s.subs)
		s.mu.Unlock()

		for _, sub := range subs {
			if sub.wants(change.Sections) {
				sub.fn(change)
			}
		}
	}
}

// Reset clears every section back to its initial value. Subscribers are kept and notified.
func (s *Store) Reset() {
	s.Batch(func(tx *Tx) {
		*tx.state = *initialState()
		for _, sec := range AllSections {
			tx.mark(sec)
		}
	})
}

// SetSetup records setup progress
func (s *Store) SetSetup(state SetupState, err *mcperr.Error) {
	s.Batch(func(tx *Tx) { tx.SetSetup(state, err) })
}

// SetConnectionState mirrors the lifecycle state
func (s *Store) SetConnectionState(state string) {
	s.Batch(func(tx *Tx) { tx.SetConnectionState(state) })
}

// SetServers replaces the server list wholesale
func (s *Store) SetServers(servers []contracts.ServerRecord, prompt string) {
	s.Batch(func(tx *Tx) { tx.SetServers(servers, prompt) })
}

// UpdateServer patches one record in place; reports whether it exists
func (s *Store) UpdateServer(name string, fn func(*contracts.ServerRecord)) bool {
	var found bool
	s.Batch(func(tx *Tx) { found = tx.UpdateServer(name, fn) })
	return found
}

// AddError appends to the error feed of the error's category
func (s *Store) AddError(err *mcperr.Error) {
	s.Batch(func(tx *Tx) { tx.AddError(err) })
}

// ClearErrors empties the given categories, or all of them
func (s *Store) ClearErrors(categories ...mcperr.Category) {
	s.Batch(func(tx *Tx) { tx.ClearErrors(categories...) })
}

// AddLog appends a record to the log section
func (s *Store) AddLog(record contracts.LogRecord) {
	s.Batch(func(tx *Tx) { tx.AddLog(record) })
}

// SetConfig stores the last validated servers file
func (s *Store) SetConfig(path string, file *config.ServersFile) {
	s.Batch(func(tx *Tx) { tx.SetConfig(path, file) })
}

// Tx is a mutation in progress. It is only valid inside Batch.
type Tx struct {
	store   *Store
	state   *State
	changed map[Section]struct{}
}

func (tx *Tx) mark(sec Section) {
	if tx.changed == nil {
		tx.changed = make(map[Section]struct{}, len(AllSections))
	}
	tx.changed[sec] = struct{}{}
}

// State returns the draft being mutated
func (tx *Tx) State() *State {
	return tx.state
}

// SetSetup records setup progress
func (tx *Tx) SetSetup(state SetupState, err *mcperr.Error) {
	setup := tx.state.Setup
	setup.State = state
	setup.Error = err
	switch state {
	case SetupInProgress:
		setup.StartedAt = time.Now()
		setup.CompletedAt = time.Time{}
	case SetupCompleted, SetupFailed:
		setup.CompletedAt = time.Now()
	}
	tx.state.Setup = setup
	tx.mark(SectionSetup)
}

// SetConnectionState mirrors the lifecycle state
func (tx *Tx) SetConnectionState(state string) {
	if tx.state.Server.ConnectionState == state {
		return
	}
	tx.state.Server.ConnectionState = state
	tx.mark(SectionServer)
}

// SetOwner records whether this client spawned the hub
func (tx *Tx) SetOwner(isOwner bool) {
	tx.state.Server.IsOwner = isOwner
	tx.mark(SectionServer)
}

// SetHubInfo records the hub version and client count from a health response
func (tx *Tx) SetHubInfo(version string, activeClients int) {
	tx.state.Server.Version = version
	tx.state.Server.ActiveClients = activeClients
	tx.mark(SectionServer)
}

// SetServers replaces the server list wholesale
func (tx *Tx) SetServers(servers []contracts.ServerRecord, prompt string) {
	next := make([]contracts.ServerRecord, len(servers))
	for i, rec := range servers {
		next[i] = rec.Clone()
	}
	tx.state.Server.Servers = next
	tx.state.Server.Prompt = prompt
	tx.state.Server.LastRefresh = time.Now()
	tx.mark(SectionServer)
}

// SetPrompt replaces the capability summary
func (tx *Tx) SetPrompt(prompt string) {
	tx.state.Server.Prompt = prompt
	tx.mark(SectionServer)
}

// UpdateServer patches one record; fn receives a private copy
func (tx *Tx) UpdateServer(name string, fn func(*contracts.ServerRecord)) bool {
	idx := slices.IndexFunc(tx.state.Server.Servers, func(r contracts.ServerRecord) bool { return r.Name == name })
	if idx < 0 {
		return false
	}
	next := slices.Clone(tx.state.Server.Servers)
	rec := next[idx].Clone()
	fn(&rec)
	next[idx] = rec
	tx.state.Server.Servers = next
	tx.mark(SectionServer)
	return true
}

// SetMarketplaceStatus updates only the catalog status
func (tx *Tx) SetMarketplaceStatus(status MarketplaceStatus) {
	tx.state.Marketplace.Status = status
	tx.mark(SectionMarketplace)
}

// SetMarketplace replaces the catalog
func (tx *Tx) SetMarketplace(query contracts.MarketplaceQuery, items []contracts.MarketplaceItem, stale bool) {
	m := tx.state.Marketplace
	m.Status = MarketplaceLoaded
	m.Query = query
	m.Items = slices.Clone(items)
	m.Stale = stale
	m.LastFetch = time.Now()
	tx.state.Marketplace = m
	tx.mark(SectionMarketplace)
}

// SetMarketplaceDetails caches the details of one catalog entry
func (tx *Tx) SetMarketplaceDetails(details contracts.MarketplaceDetails) {
	next := make(map[string]contracts.MarketplaceDetails, len(tx.state.Marketplace.Details)+1)
	for k, v := range tx.state.Marketplace.Details {
		next[k] = v
	}
	next[details.MCPID] = details
	tx.state.Marketplace.Details = next
	tx.mark(SectionMarketplace)
}

// AddError appends to the error feed, dropping the oldest entries past the cap
func (tx *Tx) AddError(err *mcperr.Error) {
	if err == nil {
		return
	}
	current := tx.state.Errors[err.Category]
	list := make([]*mcperr.Error, 0, len(current)+1)
	list = append(list, current...)
	list = append(list, err)
	if over := len(list) - tx.store.maxErrors; over > 0 {
		list = list[over:]
	}

	next := make(map[mcperr.Category][]*mcperr.Error, len(tx.state.Errors)+1)
	for k, v := range tx.state.Errors {
		next[k] = v
	}
	next[err.Category] = list
	tx.state.Errors = next
	tx.mark(SectionErrors)
}

// ClearErrors empties the given categories, or all of them
func (tx *Tx) ClearErrors(categories ...mcperr.Category) {
	if len(categories) == 0 {
		tx.state.Errors = map[mcperr.Category][]*mcperr.Error{}
		tx.mark(SectionErrors)
		return
	}
	next := make(map[mcperr.Category][]*mcperr.Error, len(tx.state.Errors))
	for k, v := range tx.state.Errors {
		if !slices.Contains(categories, k) {
			next[k] = v
		}
	}
	tx.state.Errors = next
	tx.mark(SectionErrors)
}

// AddLog appends a record, dropping the oldest entries past the cap
func (tx *Tx) AddLog(record contracts.LogRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	list := make([]contracts.LogRecord, 0, len(tx.state.Logs)+1)
	list = append(list, tx.state.Logs...)
	list = append(list, record)
	if over := len(list) - tx.store.maxLogs; over > 0 {
		list = list[over:]
	}
	tx.state.Logs = list
	tx.mark(SectionLogs)
}

// SetConfig stores the last validated servers file
func (tx *Tx) SetConfig(path string, file *config.ServersFile) {
	tx.state.Config = ConfigSection{Path: path, File: file, LoadedAt: time.Now()}
	tx.mark(SectionConfig)
}
