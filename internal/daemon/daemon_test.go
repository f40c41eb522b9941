package daemon

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/hostguard/internal/command"
)

// pipeOpener hands out the daemon side of a net.Pipe for every engine start.
type pipeOpener struct {
	mu     sync.Mutex
	peers  []net.Conn
	opened int
}

func (o *pipeOpener) open() (io.ReadWriteCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	dev, peer := net.Pipe()
	o.peers = append(o.peers, peer)
	o.opened++
	return dev, nil
}

func (o *pipeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened
}

func (o *pipeOpener) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.peers {
		p.Close()
	}
}

type testEnv struct {
	dir        string
	configPath string
	socketPath string
	pidFile    string
}

func newTestEnv(t *testing.T, blocklist string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yml"),
		socketPath: filepath.Join(dir, "hostguard.sock"),
		pidFile:    filepath.Join(dir, "hostguard.pid"),
	}
	env.writeConfig(t, "info", blocklist)
	return env
}

func (e testEnv) writeConfig(t *testing.T, level, blocklist string) {
	t.Helper()
	content := `
hostguard:
  node:
    hostname: test-node-001
  engine:
    auto_start: true
  blocklist:
` + blocklist + `
  metrics:
    enabled: false
  log:
    level: ` + level + `
    format: text
`
	require.NoError(t, os.WriteFile(e.configPath, []byte(content), 0o644))
}

func startDaemon(t *testing.T, env testEnv, o *pipeOpener) *Daemon {
	t.Helper()
	d, err := New(env.configPath, env.socketPath, env.pidFile, WithDeviceOpener(o.open))
	require.NoError(t, err)
	require.NoError(t, d.Start())
	t.Cleanup(func() {
		d.Stop()
		o.close()
	})
	return d
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	env := newTestEnv(t, "    domains: [ads.example.com]")
	o := &pipeOpener{}
	d := startDaemon(t, env, o)

	_, err := os.Stat(env.pidFile)
	require.NoError(t, err, "PID file was not created")
	pid, err := ReadPIDFile(env.pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = os.Stat(env.socketPath)
	require.NoError(t, err, "UDS socket was not created")

	assert.Equal(t, 1, o.count(), "auto_start should open the device")
	assert.True(t, d.Engine().Running())
	assert.True(t, d.Engine().IsDomainBlocked("ads.example.com"))

	runDone := make(chan error, 1)
	go func() { runDone <- d.Run() }()

	client := command.NewUDSClient(env.socketPath, 2*time.Second)
	ctx := context.Background()

	resp, err := client.BlocklistAdd(ctx, "Tracker.Example.NET")
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	assert.True(t, d.Engine().IsDomainBlocked("tracker.example.net"))

	resp, err = client.DaemonStatus(ctx)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	status, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, command.Version, status["version"])
	assert.Equal(t, true, status["engine_running"])
	assert.EqualValues(t, 2, status["domains"])
	assert.NotEmpty(t, status["blocklist_loaded_at"], "the initial load is reported")
	assert.EqualValues(t, 1, status["blocklist_loaded"])

	resp, err = client.DaemonShutdown(ctx)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	_, err = os.Stat(env.pidFile)
	assert.True(t, os.IsNotExist(err), "PID file should be removed on shutdown")
	_, err = os.Stat(env.socketPath)
	assert.True(t, os.IsNotExist(err), "socket should be removed on shutdown")
	assert.False(t, d.Engine().Running())
	assert.Empty(t, d.Engine().ListBlockedDomains(), "shutdown clears the blocklist")
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "    domains: []")
	d := startDaemon(t, env, &pipeOpener{})

	d.Stop()
	d.Stop()
	d.TriggerShutdown()
	d.TriggerShutdown()
}

func TestDaemon_InitialLoadFailureKeepsStaticDomains(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.txt")
	env := newTestEnv(t, "    domains: [static.example]\n    sources:\n      - path: "+missing)
	d := startDaemon(t, env, &pipeOpener{})

	assert.Equal(t, []string{"static.example"}, d.Engine().ListBlockedDomains())
}

func TestDaemon_LoadsSources(t *testing.T) {
	hosts := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(hosts, []byte("0.0.0.0 a.example\n0.0.0.0 b.example\n"), 0o644))

	env := newTestEnv(t, "    domains: [static.example]\n    sources:\n      - path: "+hosts)
	d := startDaemon(t, env, &pipeOpener{})

	assert.Equal(t, []string{"a.example", "b.example", "static.example"}, d.Engine().ListBlockedDomains())

	require.NoError(t, os.WriteFile(hosts, []byte("0.0.0.0 c.example\n"), 0o644))
	n, err := d.ReloadBlocklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"c.example", "static.example"}, d.Engine().ListBlockedDomains())
}

func TestNew_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("hostguard:\n  log:\n    level: loud\n"), 0o644))

	_, err := New(path, "", "")
	assert.Error(t, err)
}

func TestNew_FallsBackToControlPaths(t *testing.T) {
	env := newTestEnv(t, "    domains: []")
	d, err := New(env.configPath, "", "")
	require.NoError(t, err)
	assert.Equal(t, "/var/run/hostguard.sock", d.socketPath)
	assert.Equal(t, "/var/run/hostguard.pid", d.pidFile)
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("1234\n"), 0o644))
	pid, err := ReadPIDFile(good)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err = ReadPIDFile(bad)
	assert.Error(t, err)

	_, err = ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)
}
