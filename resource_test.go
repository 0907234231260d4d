package obs

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSource_DestroyedBeforeEngineRelease(t *testing.T) {
	for round := 0; round < 10; round++ {
		t.Run(fmt.Sprintf("round%d", round), func(t *testing.T) {
			rt, err := New(softwareConfig(PlatformX11))
			require.NoError(t, err)
			journal := journalOf(t, rt)

			var sources []*Source
			for i := 0; i < 6; i++ {
				s, err := NewSource(rt, SourceInfo{ID: "test_input", Name: fmt.Sprintf("s%d", i)})
				require.NoError(t, err)
				sources = append(sources, s)
			}
			assert.Equal(t, 6, rt.LiveResources())

			rand.Shuffle(len(sources), func(i, j int) { sources[i], sources[j] = sources[j], sources[i] })
			var g errgroup.Group
			for _, s := range sources {
				g.Go(s.Close)
			}
			require.NoError(t, g.Wait())
			assert.Zero(t, rt.LiveResources())

			require.NoError(t, rt.Close())
			entries := journal()
			require.Equal(t, "shutdown", entries[len(entries)-1])
			released := 0
			for _, e := range entries {
				if strings.HasPrefix(e, "release_source:") {
					released++
				}
			}
			assert.Equal(t, 6, released)
		})
	}
}

func TestSource_KeepsRuntimeAlive(t *testing.T) {
	rt, err := New(softwareConfig(PlatformX11))
	require.NoError(t, err)
	journal := journalOf(t, rt)

	s, err := NewSource(rt, SourceInfo{ID: "test_input", Name: "held"})
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	assert.Equal(t, StateRunning, rt.State())

	require.NoError(t, s.Update(Settings{}.SetBool("flag", true)))

	require.NoError(t, s.Close())
	entries := journal()
	assert.Equal(t, []string{"startup", "create_source:held", "release_source:held", "shutdown"}, entries)
	assert.Equal(t, StateStopped, rt.State())
}

func TestSource_CloseAfterShutdownIsAbandoned(t *testing.T) {
	rt, err := New(softwareConfig(PlatformX11))
	require.NoError(t, err)
	journal := journalOf(t, rt)

	s, err := NewSource(rt, SourceInfo{ID: "test_input", Name: "leaked"})
	require.NoError(t, err)
	require.NoError(t, rt.Shutdown())

	assert.ErrorIs(t, s.Close(), ErrNotRunning)
	assert.NoError(t, s.Close())
	assert.Zero(t, rt.LiveResources())
	assert.False(t, slices.Contains(journal(), "release_source:leaked"))
	require.NoError(t, rt.Close())
}

func TestSource_CloneSharesObject(t *testing.T) {
	rt := newTestRuntime(t)
	journal := journalOf(t, rt)

	s, err := NewSource(rt, SourceInfo{ID: "test_input", Name: "shared"})
	require.NoError(t, err)
	c := s.Clone()
	assert.True(t, s.Handle().Equal(c.Handle()))

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
	assert.Equal(t, 1, rt.LiveResources())
	assert.ErrorIs(t, s.Update(Settings{}), ErrInvalidOperation)

	require.NoError(t, c.Update(Settings{}.SetInt("n", 3)))
	require.NoError(t, c.Close())
	assert.Zero(t, rt.LiveResources())

	require.NoError(t, rt.Shutdown())
	assert.Contains(t, journal(), "release_source:shared")
}

func TestNewSource_Validation(t *testing.T) {
	rt := newTestRuntime(t)

	_, err := NewSource(rt, SourceInfo{})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	s, err := NewSource(rt, SourceInfo{ID: "test_input"})
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, strings.HasPrefix(s.Name(), "test_input-"))
	assert.Equal(t, "test_input", s.ID())
	assert.False(t, s.Handle().IsZero())
	assert.False(t, s.SignalHandler().IsZero())
}

func TestSource_SettingsAndMonitoring(t *testing.T) {
	rt := newTestRuntime(t)

	initial := Settings{}.SetString("a", "1")
	s, err := NewSource(rt, SourceInfo{ID: "test_input", Settings: initial})
	require.NoError(t, err)
	defer s.Close()

	initial.SetString("a", "changed")
	v, _ := s.Settings().String("a")
	assert.Equal(t, "1", v)

	require.NoError(t, s.Update(Settings{}.SetInt("b", 2)))
	got := s.Settings()
	assert.Equal(t, Settings{"a": "1", "b": int64(2)}, got)

	require.NoError(t, s.SetMonitoringType(MonitoringAndOutput))
	mt, err := s.MonitoringType()
	require.NoError(t, err)
	assert.Equal(t, MonitoringAndOutput, mt)
}

func TestResource_DestroyFromExecutor(t *testing.T) {
	rt := newTestRuntime(t)
	journal := journalOf(t, rt)

	s, err := NewSource(rt, SourceInfo{ID: "test_input", Name: "inline"})
	require.NoError(t, err)
	require.NoError(t, rt.Exec(func(*Engine) error { return s.Close() }))
	assert.Zero(t, rt.LiveResources())

	require.NoError(t, rt.Shutdown())
	assert.Equal(t, []string{"startup", "create_source:inline", "release_source:inline", "shutdown"}, journal())
}

// releaseAhead holds the executor with a command that closes src once the
// returned func is called. Work queued meanwhile passed its handle checks
// but runs after the source is released.
func releaseAhead(t *testing.T, rt *Runtime, src *Source) (queued func(n int), release func()) {
	t.Helper()
	gate := make(chan struct{})
	var started atomic.Bool
	closed := SubmitAsync(rt, func(*Engine) (struct{}, error) {
		started.Store(true)
		<-gate
		return struct{}{}, src.Close()
	})
	require.Eventually(t, started.Load, time.Second, time.Millisecond)

	queued = func(n int) {
		t.Helper()
		require.Eventually(t, func() bool { return rt.x.queue.size() == n }, time.Second, time.Millisecond)
	}
	release = func() {
		t.Helper()
		close(gate)
		_, err := closed.Wait()
		require.NoError(t, err)
	}
	return queued, release
}
