package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	t.Setenv("RELAY_DATA_REDIS_ADDR", mr.Addr())
	t.Setenv("RELAY_MONITOR_ENABLED", "false")
	return mr
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCacheCommands(t *testing.T) {
	mr := setup(t)

	_, err := run(t, "cache", "set", "user:1", `{"name":"a"}`, "-n", "users", "--ttl", "1m")
	require.NoError(t, err)
	assert.True(t, mr.Exists("users:user:1"))
	assert.Equal(t, "1m0s", mr.TTL("users:user:1").String())

	out, err := run(t, "cache", "get", "user:1", "-n", "users")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a"}`, out)

	out, err = run(t, "cache", "has", "user:1", "-n", "users")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	_, err = run(t, "cache", "get", "user:1", "-n", "other")
	assert.Error(t, err)

	out, err = run(t, "cache", "clear", "-n", "users")
	require.NoError(t, err)
	assert.Equal(t, "removed 1 keys\n", out)
	assert.False(t, mr.Exists("users:user:1"))
}

func TestCacheSetPlainString(t *testing.T) {
	mr := setup(t)

	_, err := run(t, "cache", "set", "greeting", "hello world", "--persist")
	require.NoError(t, err)
	assert.Zero(t, mr.TTL("greeting"))

	out, err := run(t, "cache", "get", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "\"hello world\"\n", out)

	_, err = run(t, "cache", "del", "greeting")
	require.NoError(t, err)
	assert.False(t, mr.Exists("greeting"))
}

func TestCacheClearRequiresAll(t *testing.T) {
	mr := setup(t)
	require.NoError(t, mr.Set("keep", "1"))

	_, err := run(t, "cache", "clear")
	assert.Error(t, err)
	assert.True(t, mr.Exists("keep"))

	out, err := run(t, "cache", "clear", "--all")
	require.NoError(t, err)
	assert.Equal(t, "flushed\n", out)
	assert.False(t, mr.Exists("keep"))
}

func TestPublishAndMetricsCommands(t *testing.T) {
	setup(t)

	out, err := run(t, "publish", "agents", `{"x":1}`, "--priority", "high", "--type", "signal")
	require.NoError(t, err)

	var pub struct {
		ID       string `json:"id"`
		Channel  string `json:"channel"`
		Type     string `json:"type"`
		Priority string `json:"priority"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &pub))
	assert.NotEmpty(t, pub.ID)
	assert.Equal(t, "agents", pub.Channel)
	assert.Equal(t, "signal", pub.Type)
	assert.Equal(t, "high", pub.Priority)

	out, err = run(t, "metrics", "query", "latency", "--label", "host=a")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = run(t, "metrics", "query", "latency", "--label", "broken")
	assert.Error(t, err)

	out, err = run(t, "metrics", "cleanup", "--max-age", "1h")
	require.NoError(t, err)
	assert.Equal(t, "removed 0 records\n", out)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--json")
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "goVersion")
}
