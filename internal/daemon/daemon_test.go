package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rafalfr/tinyproxy-go/internal/acl"
	"github.com/rafalfr/tinyproxy-go/internal/daemon"
	"github.com/rafalfr/tinyproxy-go/internal/transparent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tinyproxy.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func newTestDaemon(t *testing.T, body string) *daemon.Daemon {
	t.Helper()

	confPath := writeConf(t, body)
	statsPath := filepath.Join(filepath.Dir(confPath), "stats.json")

	d, err := daemon.New(daemon.Options{
		ConfigPath: confPath,
		StatsFile:  statsPath,
		AdminAddr:  "127.0.0.1:0",
	})
	require.NoError(t, err)

	return d
}

func TestNew_LoadsInitialConfig(t *testing.T) {
	d := newTestDaemon(t, "port 8888\nallow 127.0.0.1\nconnectport 443\n")

	rec := d.Config()
	assert.Equal(t, 8888, rec.ListenPort)
	assert.Equal(t, 1, rec.ACL.Len())
	assert.True(t, rec.ConnectPorts.Check(443))
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	confPath := writeConf(t, "port 0\n")

	_, err := daemon.New(daemon.Options{ConfigPath: confPath, StatsFile: filepath.Join(t.TempDir(), "s.json")})
	assert.Error(t, err)
}

func TestReload_SwapsConfigOnSuccess(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "tinyproxy.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("port 8888\n"), 0o644))

	d, err := daemon.New(daemon.Options{ConfigPath: confPath, StatsFile: filepath.Join(dir, "stats.json")})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(confPath, []byte("port 9999\n"), 0o644))
	require.NoError(t, d.Reload())

	assert.Equal(t, 9999, d.Config().ListenPort)
}

func TestReload_KeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "tinyproxy.conf")
	require.NoError(t, os.WriteFile(confPath, []byte("port 8888\n"), 0o644))

	d, err := daemon.New(daemon.Options{ConfigPath: confPath, StatsFile: filepath.Join(dir, "stats.json")})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(confPath, []byte("port 0\n"), 0o644))
	assert.Error(t, d.Reload())
	assert.Equal(t, 8888, d.Config().ListenPort)
}

func TestEvaluateACL_TracksStats(t *testing.T) {
	d := newTestDaemon(t, "port 8888\nallow 127.0.0.1\n")

	verdict := d.EvaluateACL(context.Background(), "127.0.0.1", "")
	assert.Equal(t, acl.Allow, verdict)

	verdict = d.EvaluateACL(context.Background(), "10.0.0.1", "")
	assert.Equal(t, acl.Deny, verdict)

	snap := d.Stats().Snapshot()
	aclSnap, ok := snap["acl"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, aclSnap)
}

func TestCheckConnectPort_TracksDenials(t *testing.T) {
	d := newTestDaemon(t, "port 8888\nconnectport 443\n")

	assert.True(t, d.CheckConnectPort(443))
	assert.False(t, d.CheckConnectPort(80))

	snap := d.Stats().Snapshot()
	connectSnap, ok := snap["connect"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, connectSnap["denied_port"])
}

func TestLookupUpstream_TracksHitsAndMisses(t *testing.T) {
	d := newTestDaemon(t, `port 8888
upstream proxy.example:3128 ".a.com"
`)

	p, ok := d.LookupUpstream("www.a.com")
	require.True(t, ok)
	assert.Equal(t, "proxy.example", p.Host)
	assert.Equal(t, 3128, p.Port)

	_, ok = d.LookupUpstream("other.com")
	assert.False(t, ok)

	snap := d.Stats().Snapshot()
	upstreamSnap, ok := snap["upstream"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, upstreamSnap["hits"])
	assert.EqualValues(t, 1, upstreamSnap["misses"])
}

func TestBuildTransparentRequest_RejectsSelfReference(t *testing.T) {
	d := newTestDaemon(t, "port 8888\nlisten 10.0.0.1\n")

	rec := d.Config()
	rec.Transparent = true
	rec.ListenAddress = "10.0.0.1"

	_, ok := d.BuildTransparentRequest("10.0.0.1:8888", transparent.OriginalDestination{}, "/")
	assert.False(t, ok)

	req, ok := d.BuildTransparentRequest("www.example.com:80", transparent.OriginalDestination{}, "/path")
	assert.True(t, ok)
	assert.Equal(t, "www.example.com", req.Host)

	snap := d.Stats().Snapshot()
	transparentSnap, ok := snap["transparent"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, transparentSnap["self_reference_denied"])
}

func TestBuildTransparentRequest_PassesThroughWhenNotTransparent(t *testing.T) {
	d := newTestDaemon(t, "port 8888\n")

	req, ok := d.BuildTransparentRequest("www.example.com:80", transparent.OriginalDestination{}, "/path")
	assert.True(t, ok)
	assert.Equal(t, "www.example.com", req.Host)
}

func TestRun_ShutdownReturnsPromptly(t *testing.T) {
	d := newTestDaemon(t, "port 8888\n")

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	d.Shutdown()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}
