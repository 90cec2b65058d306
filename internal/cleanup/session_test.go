package cleanup

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceymard/chest/internal/container"
	"github.com/ceymard/chest/internal/container/containertest"
)

func newSession(engine *containertest.Engine) *Session {
	return NewSession(&container.Lifecycle{Engine: engine, PollInterval: time.Millisecond}, nil)
}

func TestTerminateRestartsInReverseStopOrder(t *testing.T) {
	engine := containertest.New()
	web := engine.Add(container.Info{Name: "web"})
	api := engine.Add(container.Info{Name: "api"})
	db := engine.Add(container.Info{Name: "db"})

	s := newSession(engine)
	s.MarkStopped(web, "web")
	s.MarkStopped(api, "api")
	s.MarkStopped(db, "db")
	assert.Equal(t, []string{"web", "api", "db"}, s.PendingRestarts())

	require.NoError(t, s.Terminate(context.Background()))
	assert.Equal(t, []string{"db", "api", "web"}, engine.Names("start"))
	assert.Empty(t, s.PendingRestarts())
}

func TestTerminateRemovesHelpersBeforeRestarting(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db"})
	helper := engine.Add(container.Info{Name: "chest-abc", Running: true})

	s := newSession(engine)
	s.MarkStopped(db, "db")
	s.TrackHelper(helper, "chest-abc")

	require.NoError(t, s.Terminate(context.Background()))
	assert.False(t, engine.Exists("chest-abc"))
	assert.True(t, engine.Running("db"))
	assert.Empty(t, s.PendingHelpers())

	calls := engine.Calls("stop", "remove", "start")
	require.Len(t, calls, 3)
	assert.Equal(t, "stop chest-abc", calls[0].String())
	assert.Equal(t, "remove chest-abc", calls[1].String())
	assert.Equal(t, "start db", calls[2].String())
}

func TestTerminateRetainsFailures(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db"})
	cache := engine.Add(container.Info{Name: "cache"})
	helper := engine.Add(container.Info{Name: "chest-abc"})
	engine.Fail("start", "db", errors.New("port already allocated"))
	engine.Fail("remove", "chest-abc", errors.New("device busy"))

	s := newSession(engine)
	s.MarkStopped(db, "db")
	s.MarkStopped(cache, "cache")
	s.TrackHelper(helper, "chest-abc")

	err := s.Terminate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port already allocated")
	assert.Contains(t, err.Error(), "device busy")
	assert.Equal(t, []string{"db"}, s.PendingRestarts())
	assert.Equal(t, []string{"chest-abc"}, s.PendingHelpers())
	assert.True(t, engine.Running("cache"))

	engine.Heal("start", "db")
	engine.Heal("remove", "chest-abc")
	require.NoError(t, s.Terminate(context.Background()))
	assert.Empty(t, s.PendingRestarts())
	assert.Empty(t, s.PendingHelpers())
	assert.True(t, engine.Running("db"))
	assert.False(t, engine.Exists("chest-abc"))
}

func TestTerminateDropsVanishedContainers(t *testing.T) {
	engine := containertest.New()
	s := newSession(engine)
	s.MarkStopped("gone", "gone")
	s.TrackHelper("gone-helper", "chest-gone")

	require.NoError(t, s.Terminate(context.Background()))
	assert.Empty(t, s.PendingRestarts())
	assert.Empty(t, s.PendingHelpers())
}

func TestTerminateIsANoOpForRunningContainers(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db", Running: true})

	s := newSession(engine)
	s.MarkStopped(db, "db")
	require.NoError(t, s.Terminate(context.Background()))
	assert.Empty(t, engine.Calls("start"))
	assert.Empty(t, s.PendingRestarts())
}

func TestRegistryBookkeeping(t *testing.T) {
	s := NewSession(nil, nil)
	s.MarkStopped("1", "db")
	s.MarkStopped("1", "db")
	s.MarkStopped("2", "api")
	assert.Equal(t, []string{"db", "api"}, s.PendingRestarts())

	s.Restored("1")
	assert.Equal(t, []string{"api"}, s.PendingRestarts())

	s.TrackHelper("h", "chest-x")
	s.ReleaseHelper("h")
	s.ReleaseHelper("h")
	assert.Empty(t, s.PendingHelpers())
}

func TestGuardedStop(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db", Running: true})
	idle := engine.Add(container.Info{Name: "idle"})
	s := newSession(engine)

	wasRunning, err := s.Stop(context.Background(), db, "db")
	require.NoError(t, err)
	assert.True(t, wasRunning)
	assert.False(t, engine.Running("db"))
	assert.Equal(t, []string{"db"}, s.PendingRestarts())

	wasRunning, err = s.Stop(context.Background(), idle, "idle")
	require.NoError(t, err)
	assert.False(t, wasRunning)
	assert.Equal(t, []string{"db"}, s.PendingRestarts(), "a container that was not running needs no restart")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Stop(ctx, db, "db")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.CreateHelper(ctx, container.RunConfig{Name: "chest-db", Image: "borg"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, engine.Calls("create"))
}

func TestCreateHelperTracksHelper(t *testing.T) {
	engine := containertest.New()
	s := newSession(engine)

	id, err := s.CreateHelper(context.Background(), container.RunConfig{Name: "chest-db", Image: "borg"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"chest-db"}, s.PendingHelpers())

	require.NoError(t, s.Terminate(context.Background()))
	assert.False(t, engine.Exists("chest-db"))
	assert.Empty(t, s.PendingHelpers())
}

func TestTerminateAllWaitsForStopInFlight(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db", Running: true})
	engine.SetStopLag("db", 3)

	table := &Table{}
	drained := make(chan error, 1)
	lc := &container.Lifecycle{Engine: engine, PollInterval: time.Millisecond}
	lc.Notify = func(tr container.Transition) {
		// the signal lands once the stop was issued
		if tr.Action == container.ActionStopping {
			go func() { drained <- table.TerminateAll(context.Background()) }()
		}
	}
	s := table.Open(lc, nil)

	wasRunning, err := s.Stop(context.Background(), db, "db")
	require.NoError(t, err)
	assert.True(t, wasRunning)

	require.NoError(t, <-drained)
	assert.True(t, engine.Running("db"), "db is started again after its stop completed")
	assert.Empty(t, s.PendingRestarts())
	assert.Equal(t, []string{"stop db", "start db"}, callStrings(engine.Calls("stop", "start")))

	_, err = s.Stop(context.Background(), db, "db")
	assert.ErrorIs(t, err, ErrTerminating)
	assert.True(t, engine.Running("db"))
}

func TestTerminatingTableRefusesNewActions(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db", Running: true})
	lc := &container.Lifecycle{Engine: engine, PollInterval: time.Millisecond}

	table := &Table{}
	s := table.Open(lc, nil)
	require.NoError(t, table.TerminateAll(context.Background()))
	late := table.Open(lc, nil)

	for name, session := range map[string]*Session{"open": s, "opened after": late} {
		t.Run(name, func(t *testing.T) {
			_, err := session.Stop(context.Background(), db, "db")
			assert.ErrorIs(t, err, ErrTerminating)
			_, err = session.CreateHelper(context.Background(), container.RunConfig{Name: "chest-db", Image: "borg"})
			assert.ErrorIs(t, err, ErrTerminating)
			assert.Empty(t, session.PendingRestarts())
			assert.Empty(t, session.PendingHelpers())
		})
	}

	assert.True(t, engine.Running("db"))
	assert.Empty(t, engine.Calls("stop", "create"))
}

func callStrings(calls []containertest.Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.String())
	}
	return out
}

func TestTableTerminateAllRunsOnce(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db"})
	lc := &container.Lifecycle{Engine: engine}

	table := &Table{}
	s := table.Open(lc, nil)
	other := table.Open(lc, nil)
	other.Close()
	assert.Equal(t, 1, table.Len())

	s.MarkStopped(db, "db")
	require.NoError(t, table.TerminateAll(context.Background()))
	require.NoError(t, table.TerminateAll(context.Background()))
	assert.Len(t, engine.Calls("start"), 1)
	assert.True(t, engine.Running("db"))

	s.Close()
	assert.Equal(t, 0, table.Len())
}

func TestWatchTerminatesAndExits(t *testing.T) {
	engine := containertest.New()
	db := engine.Add(container.Info{Name: "db"})

	table := &Table{}
	s := table.Open(&container.Lifecycle{Engine: engine}, nil)
	s.MarkStopped(db, "db")

	sigs := make(chan os.Signal, 1)
	sigs <- syscall.SIGTERM
	code := -1
	canceled := false
	table.watch(sigs, make(chan struct{}), nil, func() { canceled = true }, func(c int) { code = c })

	assert.Equal(t, 128+int(syscall.SIGTERM), code)
	assert.True(t, canceled, "the running operation is canceled")
	assert.True(t, engine.Running("db"))
	assert.Empty(t, s.PendingRestarts())
	assert.True(t, s.Terminating())
}

func TestWatchStopsWithoutSignal(t *testing.T) {
	done := make(chan struct{})
	close(done)
	called := false
	(&Table{}).watch(make(chan os.Signal), done, nil, func() { called = true }, func(int) { called = true })
	assert.False(t, called)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 130, exitCode(syscall.SIGINT))
	assert.Equal(t, 1, exitCode(fakeSignal{}))
}

type fakeSignal struct{}

func (fakeSignal) String() string { return "fake" }
func (fakeSignal) Signal()        {}
