// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/hostguard/internal/core"
	"firestige.xyz/hostguard/internal/engine"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// Controller is the engine surface driven by commands. *engine.Engine implements it.
type Controller interface {
	AddBlockedDomains(domains []string) (int, error)
	RemoveBlockedDomains(domains []string) (int, error)
	IsDomainBlocked(domain string) bool
	ListBlockedDomains() []string
	ClearBlockedDomains()
	Start() error
	Stop() error
	Status() engine.Status
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// BlocklistReloader refetches the configured blocklist sources.
type BlocklistReloader interface {
	ReloadBlocklist(ctx context.Context) (int, error)
	// LastLoad returns the time and size of the last successful load.
	LastLoad() (time.Time, int)
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	engine          Controller
	configReloader  ConfigReloader
	blocklistLoader BlocklistReloader
	shutdownFunc    func() // Called by daemon_shutdown to trigger graceful stop
	startTime       time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(ctl Controller, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		engine:         ctl,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetBlocklistReloader sets the target of blocklist_reload.
func (h *CommandHandler) SetBlocklistReloader(r BlocklistReloader) {
	h.blocklistLoader = r
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g. "blocklist_add", "engine_start"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string { return fmt.Sprintf("%s (code %d)", e.Message, e.Code) }

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// DomainParams carries one domain or a batch.
type DomainParams struct {
	Domain  string   `json:"domain,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

func (p DomainParams) all() []string {
	out := p.Domains
	if p.Domain != "" {
		out = append([]string{p.Domain}, out...)
	}
	return out
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case "blocklist_add":
		return h.handleBlocklistAdd(cmd)
	case "blocklist_remove":
		return h.handleBlocklistRemove(cmd)
	case "blocklist_contains":
		return h.handleBlocklistContains(cmd)
	case "blocklist_list":
		return h.handleBlocklistList(cmd)
	case "blocklist_clear":
		h.engine.ClearBlockedDomains()
		slog.Info("blocklist cleared")
		return result(cmd, map[string]interface{}{"status": "cleared"})
	case "blocklist_reload":
		return h.handleBlocklistReload(ctx, cmd)
	case "engine_start":
		return h.handleEngineStart(cmd)
	case "engine_stop":
		return h.handleEngineStop(cmd)
	case "engine_status":
		return result(cmd, h.engine.Status())
	case "config_reload":
		return h.handleConfigReload(cmd)
	case "daemon_shutdown":
		return h.handleDaemonShutdown(cmd)
	case "daemon_status":
		return h.handleDaemonStatus(cmd)
	default:
		return failure(cmd, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func result(cmd Command, v interface{}) Response {
	return Response{ID: cmd.ID, Result: v}
}

func failure(cmd Command, code int, msg string) Response {
	return Response{ID: cmd.ID, Error: &ErrorInfo{Code: code, Message: msg}}
}

// domainError maps control API errors to JSON-RPC codes. Invalid domains are the
// caller's fault; everything else is internal.
func domainError(cmd Command, err error) Response {
	if errors.Is(err, core.ErrEmptyDomain) || errors.Is(err, core.ErrInvalidDomain) {
		return failure(cmd, ErrCodeInvalidParams, err.Error())
	}
	return failure(cmd, ErrCodeInternalError, err.Error())
}

func decodeDomains(cmd Command) ([]string, *Response) {
	var params DomainParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			resp := failure(cmd, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
			return nil, &resp
		}
	}
	domains := params.all()
	if len(domains) == 0 {
		resp := failure(cmd, ErrCodeInvalidParams, "domain is required")
		return nil, &resp
	}
	return domains, nil
}

func (h *CommandHandler) handleBlocklistAdd(cmd Command) Response {
	domains, errResp := decodeDomains(cmd)
	if errResp != nil {
		return *errResp
	}
	added, err := h.engine.AddBlockedDomains(domains)
	if err != nil {
		return domainError(cmd, err)
	}
	slog.Info("blocklist updated", "added", added)
	return result(cmd, map[string]interface{}{
		"added": added,
		"total": len(h.engine.ListBlockedDomains()),
	})
}

func (h *CommandHandler) handleBlocklistRemove(cmd Command) Response {
	domains, errResp := decodeDomains(cmd)
	if errResp != nil {
		return *errResp
	}
	removed, err := h.engine.RemoveBlockedDomains(domains)
	if err != nil {
		return domainError(cmd, err)
	}
	slog.Info("blocklist updated", "removed", removed)
	return result(cmd, map[string]interface{}{"removed": removed})
}

func (h *CommandHandler) handleBlocklistContains(cmd Command) Response {
	domains, errResp := decodeDomains(cmd)
	if errResp != nil {
		return *errResp
	}
	blocked := make(map[string]bool, len(domains))
	for _, d := range domains {
		blocked[d] = h.engine.IsDomainBlocked(d)
	}
	return result(cmd, map[string]interface{}{"blocked": blocked})
}

func (h *CommandHandler) handleBlocklistList(cmd Command) Response {
	domains := h.engine.ListBlockedDomains()
	return result(cmd, map[string]interface{}{
		"domains": domains,
		"count":   len(domains),
	})
}

func (h *CommandHandler) handleBlocklistReload(ctx context.Context, cmd Command) Response {
	if h.blocklistLoader == nil {
		return failure(cmd, ErrCodeInternalError, "blocklist reloader not available")
	}
	n, err := h.blocklistLoader.ReloadBlocklist(ctx)
	if err != nil {
		return failure(cmd, ErrCodeInternalError, fmt.Sprintf("reload blocklist failed: %v", err))
	}
	return result(cmd, map[string]interface{}{"domains": n})
}

func (h *CommandHandler) handleEngineStart(cmd Command) Response {
	if err := h.engine.Start(); err != nil {
		return failure(cmd, ErrCodeInternalError, fmt.Sprintf("start engine failed: %v", err))
	}
	return result(cmd, map[string]interface{}{"running": true})
}

func (h *CommandHandler) handleEngineStop(cmd Command) Response {
	if err := h.engine.Stop(); err != nil {
		return failure(cmd, ErrCodeInternalError, fmt.Sprintf("stop engine failed: %v", err))
	}
	return result(cmd, map[string]interface{}{"running": false})
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(cmd Command) Response {
	if h.configReloader == nil {
		return failure(cmd, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return failure(cmd, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}
	return result(cmd, map[string]interface{}{"status": "reloaded"})
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(cmd Command) Response {
	if h.shutdownFunc == nil {
		return failure(cmd, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // let the response be sent first

	return result(cmd, map[string]interface{}{"status": "shutting_down"})
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(cmd Command) Response {
	st := h.engine.Status()
	res := map[string]interface{}{
		"version":        Version,
		"uptime_sec":     int64(time.Since(h.startTime).Seconds()),
		"engine_running": st.Running,
		"domains":        st.Domains,
	}
	if h.blocklistLoader != nil {
		if at, n := h.blocklistLoader.LastLoad(); !at.IsZero() {
			res["blocklist_loaded_at"] = at.UTC().Format(time.RFC3339)
			res["blocklist_loaded"] = n
		}
	}
	return result(cmd, res)
}
