package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFetchThenInspect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"event":[{"_id":"e1","title":"Sports Day"}]}`))
	}))
	defer srv.Close()

	db := filepath.Join(t.TempDir(), "cache.db")
	common := []string{"--store", "sqlite", "--sqlite-path", db, "--base-url", srv.URL + "/api"}

	_, err := runCLI(t, append([]string{"token", "set", "tok"}, common...)...)
	require.NoError(t, err)

	out, err := runCLI(t, append([]string{"fetch", "events"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"_id": "e1"`)

	out, err = runCLI(t, append([]string{"inspect"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "@cached_events")
	assert.Contains(t, out, "@cached_news")

	_, err = runCLI(t, append([]string{"clear"}, common...)...)
	require.NoError(t, err)
}

func TestUnknownStore(t *testing.T) {
	_, err := runCLI(t, "clear", "--store", "etcd")
	assert.ErrorContains(t, err, "unknown store")
}

func TestFetchReportsErrorKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := runCLI(t, "fetch", "news", "--store", "memory", "--base-url", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTPError")
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FRESHEN_SQLITE_PATH", "/tmp/env.db")
	t.Setenv("FRESHEN_REDIS_URL", "redis://env:6379/2")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--redis-url", "redis://flag:6379/1"}))

	e, err := loadEnv(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", e.SQLitePath)
	assert.Equal(t, "redis://flag:6379/1", e.RedisURL)
	assert.Equal(t, "warn", e.LogLevel)
}
