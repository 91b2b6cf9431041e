package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine(zap.NewNop().Sugar())
	assert.Equal(t, StateDisconnected, m.Current())

	steps := []struct {
		event Event
		want  State
	}{
		{EventStart, StateConnecting},
		{EventReady, StateConnected},
		{EventStop, StateDisconnecting},
		{EventStopped, StateDisconnected},
	}
	for _, s := range steps {
		tr, err := m.Fire(s.event, nil)
		require.NoError(t, err)
		assert.Equal(t, s.want, tr.To)
		assert.Equal(t, s.want, m.Current())
	}
}

func TestMachine_StartFailure(t *testing.T) {
	m := NewMachine(nil)
	_, err := m.Fire(EventStart, nil)
	require.NoError(t, err)

	cause := errors.New("exit status 1")
	tr, err := m.Fire(EventStartFailed, cause)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, tr.From)
	assert.Equal(t, StateDisconnected, tr.To)
	assert.Equal(t, cause, m.LastError())

	// reusable after failure
	_, err = m.Fire(EventStart, nil)
	assert.NoError(t, err)
}

func TestMachine_InvalidTransitionsRejected(t *testing.T) {
	m := NewMachine(nil)

	_, err := m.Fire(EventReady, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Fire(EventStop, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateDisconnected, m.Current())
}

func TestMachine_HooksAndSubscribers(t *testing.T) {
	m := NewMachine(nil)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	var seen []State
	m.OnTransition(func(tr Transition) {
		// state is already applied when hooks run
		assert.Equal(t, tr.To, m.Current())
		seen = append(seen, tr.To)
	})

	_, _ = m.Fire(EventStart, nil)
	_, _ = m.Fire(EventReady, nil)
	_, _ = m.Fire(EventReady, nil) // invalid, no notification

	assert.Equal(t, []State{StateConnecting, StateConnected}, seen)
	require.Len(t, ch, 2)
	first := <-ch
	assert.Equal(t, StateDisconnected, first.From)
	assert.False(t, first.Timestamp.IsZero())
}

func TestMachine_HooksSeeCommitOrder(t *testing.T) {
	m := NewMachine(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var seen []State
	m.OnTransition(func(tr Transition) {
		if tr.To == StateConnecting {
			close(entered)
			<-release
		}
		seen = append(seen, tr.To)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Fire(EventStart, nil)
	}()
	<-entered

	_, err := m.Fire(EventReady, nil)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, m.Current())

	close(release)
	<-done
	assert.Equal(t, []State{StateConnecting, StateConnected}, seen)
}

func TestMachine_FireFromHook(t *testing.T) {
	m := NewMachine(nil)
	var seen []State
	m.OnTransition(func(tr Transition) {
		seen = append(seen, tr.To)
		if tr.To == StateConnecting {
			_, _ = m.Fire(EventStartFailed, errors.New("spawn failed"))
		}
	})

	_, err := m.Fire(EventStart, nil)
	require.NoError(t, err)
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, seen)
	assert.EqualError(t, m.LastError(), "spawn failed")
}

func TestMachine_Unsubscribe(t *testing.T) {
	m := NewMachine(nil)
	ch, unsubscribe := m.Subscribe()
	unsubscribe()
	unsubscribe()

	_, err := m.Fire(EventStart, nil)
	require.NoError(t, err)
	_, open := <-ch
	assert.False(t, open)
	assert.Empty(t, m.subscribers)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateConnecting, StateDisconnected))
	assert.True(t, CanTransition(StateConnected, StateDisconnecting))
	assert.False(t, CanTransition(StateDisconnected, StateConnected))
	assert.False(t, CanTransition(StateDisconnecting, StateConnected))
}

func TestMachine_StateAlwaysKnown(t *testing.T) {
	events := []Event{EventStart, EventReady, EventStartFailed, EventProcessExit, EventStop, EventStopped}
	known := map[State]bool{StateDisconnected: true, StateConnecting: true, StateConnected: true, StateDisconnecting: true}

	rapid.Check(t, func(t *rapid.T) {
		m := NewMachine(nil)
		for _, ev := range rapid.SliceOfN(rapid.SampledFrom(events), 0, 40).Draw(t, "events") {
			before := m.Current()
			tr, err := m.Fire(ev, nil)
			if err != nil {
				if m.Current() != before {
					t.Fatalf("rejected %s changed state %s -> %s", ev, before, m.Current())
				}
				continue
			}
			if !CanTransition(tr.From, tr.To) {
				t.Fatalf("took undeclared transition %s -> %s", tr.From, tr.To)
			}
			// connected is only reachable from connecting
			if tr.To == StateConnected && tr.From != StateConnecting {
				t.Fatalf("reached connected from %s", tr.From)
			}
		}
		if !known[m.Current()] {
			t.Fatalf("unknown state %s", m.Current())
		}
	})
}
