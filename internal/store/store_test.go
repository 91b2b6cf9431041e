package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/mcperr"
)

func TestNew_InitialState(t *testing.T) {
	s := New(Options{})
	st := s.Snapshot()

	assert.Equal(t, SetupNotStarted, st.Setup.State)
	assert.Equal(t, "disconnected", st.Server.ConnectionState)
	assert.Equal(t, MarketplaceEmpty, st.Marketplace.Status)
	assert.Empty(t, st.Logs)
	assert.Zero(t, st.ErrorCount())
	assert.False(t, st.IsReady())
}

func TestSubscribe_NotifiedAfterMutation(t *testing.T) {
	s := New(Options{})

	var seen []string
	s.Subscribe(func(c Change) {
		// the snapshot handed to the listener already reflects the mutation
		seen = append(seen, c.State.Server.ConnectionState)
		assert.Equal(t, c.State, s.Snapshot())
	})

	s.SetConnectionState("connecting")
	s.SetConnectionState("connected")
	s.SetConnectionState("connected") // no-op, no notification

	assert.Equal(t, []string{"connecting", "connected"}, seen)
}

func TestSubscribe_ScopedBySection(t *testing.T) {
	s := New(Options{})

	var serverHits, errorHits, allHits int
	s.Subscribe(func(Change) { serverHits++ }, SectionServer)
	s.Subscribe(func(Change) { errorHits++ }, SectionErrors)
	s.Subscribe(func(Change) { allHits++ })

	s.SetConnectionState("connecting")
	s.AddError(mcperr.Runtime(mcperr.CodeToolError, "boom", nil))
	s.AddLog(contracts.LogRecord{Type: "info", Message: "hello"})

	assert.Equal(t, 1, serverHits)
	assert.Equal(t, 1, errorHits)
	assert.Equal(t, 3, allHits)
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	s := New(Options{})

	var order []int
	unsub1 := s.Subscribe(func(Change) { order = append(order, 1) })
	s.Subscribe(func(Change) { order = append(order, 2) })
	s.Subscribe(func(Change) { order = append(order, 3) })

	s.SetConnectionState("connecting")
	unsub1()
	unsub1() // idempotent
	s.SetConnectionState("connected")

	assert.Equal(t, []int{1, 2, 3, 2, 3}, order)
}

func TestBatch_CoalescesNotifications(t *testing.T) {
	s := New(Options{})

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Batch(func(tx *Tx) {
		tx.SetConnectionState("connected")
		tx.SetHubInfo("4.2.0", 2)
		tx.SetServers([]contracts.ServerRecord{{Name: "a", Status: contracts.StatusConnected}}, "prompt")
		tx.AddError(mcperr.Server(mcperr.CodeAPIError, "x", nil))
	})

	require.Len(t, changes, 1)
	assert.Equal(t, []Section{SectionServer, SectionErrors}, changes[0].Sections)
	assert.True(t, changes[0].Has(SectionServer))
	assert.False(t, changes[0].Has(SectionLogs))

	st := s.Snapshot()
	assert.Equal(t, "4.2.0", st.Server.Version)
	assert.Equal(t, 2, st.Server.ActiveClients)
	assert.Equal(t, "prompt", st.Server.Prompt)
	assert.True(t, st.IsReady())
}

func TestBatch_EmptyDoesNotNotify(t *testing.T) {
	s := New(Options{})
	called := false
	s.Subscribe(func(Change) { called = true })

	s.Batch(func(*Tx) {})
	assert.False(t, called)
}

func TestSnapshot_Immutable(t *testing.T) {
	s := New(Options{})
	s.SetServers([]contracts.ServerRecord{{Name: "a", Status: contracts.StatusDisconnected}}, "")

	before := s.Snapshot()
	found := s.UpdateServer("a", func(r *contracts.ServerRecord) { r.Status = contracts.StatusConnected })
	require.True(t, found)
	assert.False(t, s.UpdateServer("missing", func(*contracts.ServerRecord) {}))

	assert.Equal(t, contracts.StatusDisconnected, before.Server.Servers[0].Status)
	rec, ok := s.Snapshot().FindServer("a")
	require.True(t, ok)
	assert.Equal(t, contracts.StatusConnected, rec.Status)
}

func TestAddError_CapPerCategory(t *testing.T) {
	s := New(Options{MaxErrors: 3})

	for i := 0; i < 5; i++ {
		s.AddError(mcperr.Runtime(mcperr.CodeToolError, fmt.Sprintf("err %d", i), nil))
	}
	s.AddError(mcperr.Server(mcperr.CodeAPIError, "server", nil))
	s.AddError(nil)

	st := s.Snapshot()
	runtime := st.ErrorsFor(mcperr.CategoryRuntime)
	require.Len(t, runtime, 3)
	assert.Equal(t, "err 2", runtime[0].Message)
	assert.Equal(t, "err 4", runtime[2].Message)
	assert.Len(t, st.ErrorsFor(mcperr.CategoryServer), 1)
	assert.Equal(t, 4, st.ErrorCount())
}

func TestClearErrors(t *testing.T) {
	s := New(Options{})
	s.AddError(mcperr.Runtime(mcperr.CodeToolError, "a", nil))
	s.AddError(mcperr.Server(mcperr.CodeAPIError, "b", nil))

	s.ClearErrors(mcperr.CategoryRuntime)
	assert.Empty(t, s.Snapshot().ErrorsFor(mcperr.CategoryRuntime))
	assert.Len(t, s.Snapshot().ErrorsFor(mcperr.CategoryServer), 1)

	s.ClearErrors()
	assert.Zero(t, s.Snapshot().ErrorCount())
}

func TestAddLog_Cap(t *testing.T) {
	s := New(Options{MaxLogs: 2})
	for i := 0; i < 4; i++ {
		s.AddLog(contracts.LogRecord{Type: "info", Message: fmt.Sprintf("line %d", i)})
	}
	logs := s.Snapshot().Logs
	require.Len(t, logs, 2)
	assert.Equal(t, "line 2", logs[0].Message)
	assert.False(t, logs[1].Timestamp.IsZero())
}

func TestReset_KeepsSubscribers(t *testing.T) {
	s := New(Options{})
	var last Change
	hits := 0
	s.Subscribe(func(c Change) { hits++; last = c })

	s.SetConnectionState("connected")
	s.AddLog(contracts.LogRecord{Message: "x"})
	s.Reset()

	assert.Equal(t, 3, hits)
	assert.Equal(t, AllSections, last.Sections)
	assert.Equal(t, "disconnected", s.Snapshot().Server.ConnectionState)
	assert.Empty(t, s.Snapshot().Logs)

	s.SetConnectionState("connecting")
	assert.Equal(t, 4, hits)
}

func TestListener_MayMutateReentrantly(t *testing.T) {
	s := New(Options{})
	s.Subscribe(func(c Change) {
		if c.State.Server.ConnectionState == "connected" && len(c.State.Logs) == 0 {
			s.AddLog(contracts.LogRecord{Message: "connected"})
		}
	}, SectionServer)

	s.SetConnectionState("connected")
	require.Len(t, s.Snapshot().Logs, 1)
}

func TestDelivery_SerialisedInCommitOrder(t *testing.T) {
	s := New(Options{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		applied []string
		active  atomic.Int32
		maxSeen atomic.Int32
	)
	s.Subscribe(func(c Change) {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		state := c.State.Server.ConnectionState
		if state == "connecting" {
			close(entered)
			<-release
		}
		applied = append(applied, state)
	}, SectionServer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.SetConnectionState("connecting")
	}()
	<-entered

	// committed immediately, delivered by the goroutine already draining
	s.SetConnectionState("connected")
	assert.Equal(t, "connected", s.Snapshot().Server.ConnectionState)

	close(release)
	<-done
	assert.Equal(t, []string{"connecting", "connected"}, applied)
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestBatch_PanicReleasesLock(t *testing.T) {
	s := New(Options{})

	assert.Panics(t, func() {
		s.Batch(func(tx *Tx) {
			tx.SetConnectionState("connecting")
			panic("boom")
		})
	})
	assert.Equal(t, "disconnected", s.Snapshot().Server.ConnectionState)

	s.SetConnectionState("connected")
	assert.Equal(t, "connected", s.Snapshot().Server.ConnectionState)
}

func TestListener_PanicDoesNotStopDelivery(t *testing.T) {
	s := New(Options{})
	hits := 0
	s.Subscribe(func(c Change) {
		hits++
		if c.State.Server.ConnectionState == "connecting" {
			panic("listener failed")
		}
	})

	assert.Panics(t, func() { s.SetConnectionState("connecting") })
	s.SetConnectionState("connected")
	assert.Equal(t, 2, hits)
}

func TestStores_AreIndependent(t *testing.T) {
	a := New(Options{})
	b := New(Options{})

	a.SetConnectionState("connected")
	assert.Equal(t, "disconnected", b.Snapshot().Server.ConnectionState)
}

func TestSetSetup_Timestamps(t *testing.T) {
	s := New(Options{})
	s.SetSetup(SetupInProgress, nil)
	st := s.Snapshot().Setup
	assert.False(t, st.StartedAt.IsZero())
	assert.True(t, st.CompletedAt.IsZero())

	failure := mcperr.Setup(mcperr.CodeMissingDependency, "mcp-hub not found", nil)
	s.SetSetup(SetupFailed, failure)
	st = s.Snapshot().Setup
	assert.Equal(t, SetupFailed, st.State)
	assert.Same(t, failure, st.Error)
	assert.False(t, st.CompletedAt.IsZero())
}

func TestMarketplace(t *testing.T) {
	s := New(Options{})
	s.Batch(func(tx *Tx) { tx.SetMarketplaceStatus(MarketplaceLoading) })
	assert.Equal(t, MarketplaceLoading, s.Snapshot().Marketplace.Status)

	items := []contracts.MarketplaceItem{{MCPID: "a", Name: "A"}}
	s.Batch(func(tx *Tx) {
		tx.SetMarketplace(contracts.MarketplaceQuery{Search: "a"}, items, true)
		tx.SetMarketplaceDetails(contracts.MarketplaceDetails{MarketplaceItem: items[0], ReadmeContent: "# A"})
	})

	m := s.Snapshot().Marketplace
	assert.Equal(t, MarketplaceLoaded, m.Status)
	assert.True(t, m.Stale)
	assert.Equal(t, "# A", m.Details["a"].ReadmeContent)
}

func TestConcurrentMutations(t *testing.T) {
	s := New(Options{MaxLogs: 10000})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.AddLog(contracts.LogRecord{Message: fmt.Sprintf("%d-%d", i, j)})
				_ = s.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, s.Snapshot().Logs, 1000)
}

func TestErrorFeed_NeverExceedsCap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxErrors := rapid.IntRange(1, 10).Draw(t, "max")
		s := New(Options{MaxErrors: maxErrors})
		cats := []mcperr.Category{mcperr.CategorySetup, mcperr.CategoryServer, mcperr.CategoryRuntime, mcperr.CategoryMarketplace}

		n := rapid.IntRange(0, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			cat := rapid.SampledFrom(cats).Draw(t, "cat")
			s.AddError(mcperr.New(cat, mcperr.CodeToolError, fmt.Sprint(i), nil))
		}
		for _, cat := range cats {
			if got := len(s.Snapshot().ErrorsFor(cat)); got > maxErrors {
				t.Fatalf("category %s holds %d errors, cap %d", cat, got, maxErrors)
			}
		}
	})
}
