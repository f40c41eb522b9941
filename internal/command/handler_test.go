package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/hostguard/internal/blocklist"
	"firestige.xyz/hostguard/internal/engine"
)

// mockConfigReloader is a mock implementation of ConfigReloader.
type mockConfigReloader struct {
	reloadFunc func() error
}

func (m *mockConfigReloader) Reload() error {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return nil
}

type mockBlocklistReloader struct {
	n        int
	err      error
	loadedAt time.Time
}

func (m *mockBlocklistReloader) ReloadBlocklist(context.Context) (int, error) { return m.n, m.err }

func (m *mockBlocklistReloader) LastLoad() (time.Time, int) { return m.loadedAt, m.n }

// pipeOpener returns one end of an in-memory pipe as the tunnel device.
func pipeOpener() (io.ReadWriteCloser, error) {
	dev, peer := net.Pipe()
	go func() { _, _ = io.Copy(io.Discard, peer) }()
	return dev, nil
}

func newTestHandler(t *testing.T) (*CommandHandler, *engine.Engine) {
	t.Helper()
	e := engine.New(blocklist.NewStore(), pipeOpener)
	t.Cleanup(func() { _ = e.Stop() })
	return NewCommandHandler(e, &mockConfigReloader{}), e
}

func call(h *CommandHandler, method string, params interface{}) Response {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return h.Handle(context.Background(), Command{Method: method, Params: raw, ID: "req-1"})
}

func TestCommandHandler_Blocklist(t *testing.T) {
	h, e := newTestHandler(t)

	resp := call(h, "blocklist_add", DomainParams{Domain: "Ads.Example.com", Domains: []string{"tracker.net"}})
	require.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, map[string]interface{}{"added": 2, "total": 2}, resp.Result)
	assert.True(t, e.IsDomainBlocked("ads.example.com"))

	resp = call(h, "blocklist_contains", DomainParams{Domains: []string{"tracker.net", "news.example.org"}})
	require.Nil(t, resp.Error)
	blocked := resp.Result.(map[string]interface{})["blocked"].(map[string]bool)
	assert.True(t, blocked["tracker.net"])
	assert.False(t, blocked["news.example.org"])

	resp = call(h, "blocklist_list", nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{"ads.example.com", "tracker.net"}, resp.Result.(map[string]interface{})["domains"])

	resp = call(h, "blocklist_remove", DomainParams{Domain: "tracker.net"})
	require.Nil(t, resp.Error)
	assert.Equal(t, 1, resp.Result.(map[string]interface{})["removed"])

	resp = call(h, "blocklist_clear", nil)
	require.Nil(t, resp.Error)
	assert.Empty(t, e.ListBlockedDomains())
}

func TestCommandHandler_BlocklistBatch(t *testing.T) {
	h, e := newTestHandler(t)

	resp := call(h, "blocklist_add", DomainParams{Domains: []string{"a.com", "   ", "b.com"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.Empty(t, e.ListBlockedDomains(), "a rejected batch adds nothing")

	resp = call(h, "blocklist_add", DomainParams{Domains: []string{"a.com", "a.com", "A.COM"}})
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]interface{}{"added": 1, "total": 1}, resp.Result)

	resp = call(h, "blocklist_remove", DomainParams{Domains: []string{"a.com", "https://b.com/x"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.True(t, e.IsDomainBlocked("a.com"), "a rejected batch removes nothing")
}

func TestCommandHandler_InvalidParams(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		method string
		params json.RawMessage
	}{
		{"blocklist_add", nil},
		{"blocklist_add", json.RawMessage(`{"domain": ""}`)},
		{"blocklist_add", json.RawMessage(`{"domains": ["ok.example", "  "]}`)},
		{"blocklist_remove", json.RawMessage(`not json`)},
		{"blocklist_contains", json.RawMessage(`{}`)},
	}
	for _, tt := range tests {
		resp := h.Handle(context.Background(), Command{Method: tt.method, Params: tt.params, ID: "x"})
		if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
			t.Errorf("%s %s: got %+v, want invalid params error", tt.method, tt.params, resp.Error)
		}
	}
}

func TestCommandHandler_Engine(t *testing.T) {
	h, e := newTestHandler(t)

	resp := call(h, "engine_start", nil)
	require.Nil(t, resp.Error)
	assert.True(t, e.Running())

	resp = call(h, "engine_status", nil)
	require.Nil(t, resp.Error)
	st, ok := resp.Result.(engine.Status)
	require.True(t, ok)
	assert.True(t, st.Running)

	resp = call(h, "daemon_status", nil)
	require.Nil(t, resp.Error)
	status := resp.Result.(map[string]interface{})
	assert.Equal(t, true, status["engine_running"])
	assert.NotContains(t, status, "blocklist_loaded_at", "no loader, no load time")

	loaded := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	h.SetBlocklistReloader(&mockBlocklistReloader{n: 12, loadedAt: loaded})
	resp = call(h, "daemon_status", nil)
	require.Nil(t, resp.Error)
	status = resp.Result.(map[string]interface{})
	assert.Equal(t, "2026-03-04T05:06:07Z", status["blocklist_loaded_at"])
	assert.Equal(t, 12, status["blocklist_loaded"])

	resp = call(h, "engine_stop", nil)
	require.Nil(t, resp.Error)
	assert.False(t, e.Running())
}

func TestCommandHandler_EngineStartFailure(t *testing.T) {
	h := NewCommandHandler(engine.New(blocklist.NewStore(), nil), nil)
	resp := call(h, "engine_start", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestCommandHandler_Reloads(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := call(h, "blocklist_reload", nil)
	require.NotNil(t, resp.Error, "no reloader registered")

	h.SetBlocklistReloader(&mockBlocklistReloader{n: 42})
	resp = call(h, "blocklist_reload", nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, 42, resp.Result.(map[string]interface{})["domains"])

	h.SetBlocklistReloader(&mockBlocklistReloader{err: errors.New("unreachable")})
	resp = call(h, "blocklist_reload", nil)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "unreachable")

	resp = call(h, "config_reload", nil)
	require.Nil(t, resp.Error)

	h.configReloader = &mockConfigReloader{reloadFunc: func() error { return errors.New("bad yaml") }}
	resp = call(h, "config_reload", nil)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "bad yaml")
}

func TestCommandHandler_Shutdown(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := call(h, "daemon_shutdown", nil)
	require.NotNil(t, resp.Error, "no shutdown func registered")

	called := make(chan struct{})
	h.SetShutdownFunc(func() { close(called) })
	resp = call(h, "daemon_shutdown", nil)
	require.Nil(t, resp.Error)
	<-called
}

func TestCommandHandler_UnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := call(h, "task_create", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}
