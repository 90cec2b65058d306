package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceymard/chest/internal/cleanup"
	"github.com/ceymard/chest/internal/container"
	"github.com/ceymard/chest/internal/container/containertest"
	"github.com/ceymard/chest/internal/events"
)

type fixture struct {
	engine  *containertest.Engine
	session *cleanup.Session
	runner  *Runner
}

func newFixture() *fixture {
	engine := containertest.New()
	lc := &container.Lifecycle{Engine: engine, PollInterval: time.Millisecond}
	session := cleanup.NewSession(lc, nil)
	return &fixture{
		engine:  engine,
		session: session,
		runner:  &Runner{Lifecycle: lc, Session: session},
	}
}

func backupSpec() OperationSpec {
	return OperationSpec{
		Target:      "db",
		Destination: "/backups/db",
		Command:     "borg create ::db-1 ./*",
		Binds:       []container.BindMount{{Source: "/backups/db", Target: container.RepositoryPath, Mode: container.ReadWrite}},
	}
}

func TestRunDeliversEvents(t *testing.T) {
	f := newFixture()
	f.engine.HelperStdout = []byte(`{"archive":{"name":"db-1","duration":1.5,"stats":{"deduplicated_size":10,"original_size":100}},"cache":{"stats":{"unique_csize":50}}}`)
	f.engine.HelperStderr = []byte(`{"type":"question_env_answer","msgid":"BORG_RELOCATED_REPO_ACCESS_IS_OK","message":"yes"}` + "\n" +
		`{"type":"log_message","levelname":"ERROR","msgid":"Repository.AlreadyExists","message":"A repository already exists at /repository."}` + "\n" +
		`{"type":"progress_percent","current":1,"total":2,"finished":false}` +
		`{"type":"progress_percent","current":2,"total":2,"finished":true}` + "\n" +
		`{"type":"log_message","levelname":"ERROR","message":"Failed to create/acquire the lock"}`)

	var stdout, stderr []events.Record
	res, err := f.runner.Run(context.Background(), backupSpec(), Handlers{
		Stdout: func(r events.Record) { stdout = append(stdout, r) },
		Stderr: func(r events.Record) { stderr = append(stderr, r) },
	})
	require.NoError(t, err)

	require.Len(t, stdout, 1)
	assert.Equal(t, events.RouteResult, stdout[0].Route)
	require.NotNil(t, res.Stats)
	assert.Equal(t, "db-1", res.Stats.ArchiveName)
	assert.Equal(t, int64(50), res.Stats.RepositorySize)

	require.Len(t, stderr, 4, "question records are filtered")
	assert.Equal(t, events.RouteDiagnostic, stderr[0].Route)
	assert.Equal(t, events.RouteProgress, stderr[1].Route)
	assert.Equal(t, events.RouteProgress, stderr[2].Route)
	assert.Equal(t, events.RouteError, stderr[3].Route)
	assert.Equal(t, 2, stderr[0].Seq, "sequence numbers count every record of the channel")
	assert.Equal(t, []string{"Failed to create/acquire the lock"}, res.Errors)

	assert.Equal(t, int64(0), res.ExitCode)
	assert.Empty(t, f.engine.ByImage(DefaultImage), "helper is removed")
	assert.Empty(t, f.session.PendingHelpers())
}

func TestRunHelperConfiguration(t *testing.T) {
	f := newFixture()
	f.runner.Image = "ceymard/borg:test"

	spec := backupSpec()
	spec.Passphrase = "secret"
	spec.Labels = map[string]string{"extra": "1"}
	_, err := f.runner.Run(context.Background(), spec, Handlers{})
	require.NoError(t, err)

	calls := f.engine.Calls("pull", "create", "start", "logs", "wait", "remove")
	var ops []string
	for _, c := range calls {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{"pull", "create", "start", "logs", "wait", "remove"}, ops)
	assert.Equal(t, "ceymard/borg:test", calls[0].Name)

	cfg, ok := f.engine.Config(HelperName("db"))
	require.True(t, ok)
	assert.Equal(t, "ceymard/borg:test", cfg.Image)
	assert.Equal(t, container.Workspace, cfg.WorkDir)
	assert.Equal(t, []string{"/bin/ash"}, cfg.Entrypoint)
	assert.Equal(t, []string{"-c", "borg create ::db-1 ./*"}, cfg.Cmd)
	assert.Contains(t, cfg.Env, "BORG_REPO=/repository")
	assert.Contains(t, cfg.Env, "BORG_PASSPHRASE=secret")
	assert.Contains(t, cfg.Env, "BORG_UNKNOWN_UNENCRYPTED_REPO_ACCESS_IS_OK=yes")
	assert.Equal(t, spec.Binds, cfg.Binds)
	assert.Equal(t, "true", cfg.Labels[LabelHelper])
	assert.Equal(t, "db", cfg.Labels[LabelTarget])
	assert.Equal(t, "1", cfg.Labels["extra"])
}

func TestRunReportsExitCode(t *testing.T) {
	f := newFixture()
	f.engine.ExitCode = 2

	res, err := f.runner.Run(context.Background(), backupSpec(), Handlers{})
	require.NoError(t, err, "a failing borg is not an engine error")
	assert.Equal(t, int64(2), res.ExitCode)
	assert.Nil(t, res.Stats)
	assert.False(t, f.engine.Exists(HelperName("db")))
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name      string
		op        string
		wantErr   string
		wantCalls []string
	}{
		{name: "pull", op: "pull", wantErr: "failed to pull", wantCalls: nil},
		{name: "create", op: "create", wantErr: "failed to create", wantCalls: nil},
		{name: "start", op: "start", wantErr: "failed to start", wantCalls: []string{"remove"}},
		{name: "wait", op: "wait", wantErr: "failed to wait", wantCalls: []string{"remove"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.engine.Fail(tt.op, "*", errors.New("engine exploded"))

			_, err := f.runner.Run(context.Background(), backupSpec(), Handlers{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "engine exploded")

			var ops []string
			for _, c := range f.engine.Calls("remove") {
				ops = append(ops, c.Op)
			}
			assert.Equal(t, tt.wantCalls, ops)
			assert.False(t, f.engine.Exists(HelperName("db")), "helper never leaks")
			assert.Empty(t, f.session.PendingHelpers())
		})
	}
}

func TestRunLogsFailureStillWaits(t *testing.T) {
	f := newFixture()
	f.engine.Fail("logs", "*", errors.New("stream broken"))

	res, err := f.runner.Run(context.Background(), backupSpec(), Handlers{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ExitCode)
	assert.Len(t, f.engine.Calls("wait"), 1)
	assert.False(t, f.engine.Exists(HelperName("db")))
}

func TestRunKeepsHelperRegisteredWhenRemovalFails(t *testing.T) {
	f := newFixture()
	name := HelperName("db")
	f.engine.Fail("remove", name, errors.New("device busy"))

	_, err := f.runner.Run(context.Background(), backupSpec(), Handlers{})
	require.NoError(t, err)
	assert.Equal(t, []string{name}, f.session.PendingHelpers())
	assert.True(t, f.engine.Exists(name))

	f.engine.Heal("remove", name)
	require.NoError(t, f.session.Terminate(context.Background()))
	assert.False(t, f.engine.Exists(name))
	assert.Empty(t, f.session.PendingHelpers())
}

func TestRunRemovesStoppedOrphan(t *testing.T) {
	f := newFixture()
	f.engine.Add(container.Info{Name: HelperName("db"), Labels: map[string]string{LabelHelper: "true"}})

	_, err := f.runner.Run(context.Background(), backupSpec(), Handlers{})
	require.NoError(t, err)
	assert.Len(t, f.engine.Calls("remove"), 2, "orphan and new helper")
	assert.False(t, f.engine.Exists(HelperName("db")))
}

func TestRunRefusesBusyTarget(t *testing.T) {
	f := newFixture()
	f.engine.Add(container.Info{Name: HelperName("db"), Running: true, Labels: map[string]string{LabelHelper: "true"}})

	_, err := f.runner.Run(context.Background(), backupSpec(), Handlers{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Empty(t, f.engine.Calls("create"))
	assert.True(t, f.engine.Running(HelperName("db")), "the other run is left alone")
}

func TestRunRefusesForeignContainer(t *testing.T) {
	f := newFixture()
	f.engine.Add(container.Info{Name: HelperName("db")})

	_, err := f.runner.Run(context.Background(), backupSpec(), Handlers{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a chest helper")
	assert.True(t, f.engine.Exists(HelperName("db")))
}

func TestEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		spec    OperationSpec
		want    []string
		without []string
	}{
		{
			name:    "local",
			spec:    OperationSpec{Destination: "/backups/db", SSHAuthSock: "/tmp/agent"},
			want:    []string{"BORG_REPO=/repository", "BORG_HOSTNAME_IS_UNIQUE=no"},
			without: []string{"SSH_AUTH_SOCK=/tmp/agent"},
		},
		{
			name: "remote",
			spec: OperationSpec{Destination: "borg@host:db", SSHAuthSock: "/tmp/agent", Passphrase: "pw", Env: []string{"BORG_RSH=ssh -p 2222"}},
			want: []string{"BORG_REPO=borg@host:db", "SSH_AUTH_SOCK=/tmp/agent", "BORG_PASSPHRASE=pw", "BORG_RSH=ssh -p 2222"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Environment(tt.spec)
			for _, w := range tt.want {
				assert.Contains(t, env, w)
			}
			for _, w := range tt.without {
				assert.NotContains(t, env, w)
			}
		})
	}
}

func TestHelperName(t *testing.T) {
	assert.Equal(t, "chest-d77d5e50", HelperName("db"))
}
