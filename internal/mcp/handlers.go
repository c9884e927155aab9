package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sakhilchawla/audit-llm-decision/internal/audit"
	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
)

// ProtocolVersion is the MCP revision announced by initialize.
const ProtocolVersion = "2024-11-05"

// ServerInfo identifies the relay to the host.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises which MCP feature groups are served.
type Capabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
}

// InitializeResult is the initialize reply.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ToolCallParams is the tools/call request.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Content is one MCP content block.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult wraps a tool's output as MCP content.
type ToolCallResult struct {
	Content []Content `json:"content"`
}

// Handlers serves the audit methods over the engine.
type Handlers struct {
	svc    *audit.Service
	info   ServerInfo
	logger *slog.Logger

	// listCache holds marshalled list results keyed by method; entries never expire.
	listCache *lru.Cache[string, json.RawMessage]
}

// NewHandlers creates the method handlers for svc.
func NewHandlers(svc *audit.Service, info ServerInfo, logger *slog.Logger) (*Handlers, error) {
	cache, err := lru.New[string, json.RawMessage](8)
	if err != nil {
		return nil, fmt.Errorf("failed to create list cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, info: info, logger: logger, listCache: cache}, nil
}

// Methods returns every method the relay serves.
func (h *Handlers) Methods() []Method {
	return []Method{
		{Name: "initialize", Handler: h.initialize},
		{Name: "notifications/initialized", Handler: h.initialized},
		{Name: "ping", Handler: h.ping},
		{Name: "heartbeat", Handler: h.heartbeat},
		{Name: "tools/list", Handler: h.cachedList("tools/list", func() any {
			return map[string][]Tool{"tools": Tools()}
		})},
		{Name: "resources/list", Handler: h.cachedList("resources/list", func() any {
			return map[string][]any{"resources": {}}
		})},
		{Name: "prompts/list", Handler: h.cachedList("prompts/list", func() any {
			return map[string][]any{"prompts": {}}
		})},
		{Name: "tools/call", Handler: h.callTool},
		{Name: LogInteractionMethod, Handler: h.logInteraction},
	}
}

// NewAuditRegistry builds the registry served by the relay.
func NewAuditRegistry(svc *audit.Service, info ServerInfo, logger *slog.Logger) (*Registry, error) {
	h, err := NewHandlers(svc, info, logger)
	if err != nil {
		return nil, err
	}
	return NewRegistry(h.Methods()...)
}

// initialize bootstraps the schema; a failure is logged and retried on the
// first insert so the host can still complete its handshake.
func (h *Handlers) initialize(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.svc.Bootstrap(ctx); err != nil {
		h.logger.Warn("schema bootstrap failed during initialize", slog.String("error", err.Error()))
	}
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      h.info,
		Capabilities:    Capabilities{Tools: true},
	}, nil
}

func (h *Handlers) initialized(context.Context, json.RawMessage) (any, error) {
	h.logger.Debug("host initialized")
	return nil, nil
}

func (h *Handlers) ping(context.Context, json.RawMessage) (any, error) {
	return struct{}{}, nil
}

func (h *Handlers) heartbeat(context.Context, json.RawMessage) (any, error) {
	return nil, nil
}

func (h *Handlers) cachedList(method string, build func() any) HandlerFunc {
	return func(context.Context, json.RawMessage) (any, error) {
		if raw, ok := h.listCache.Get(method); ok {
			return raw, nil
		}
		raw, err := json.Marshal(build())
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", method, err)
		}
		h.listCache.Add(method, raw)
		return json.RawMessage(raw), nil
	}
}

func (h *Handlers) logInteraction(ctx context.Context, params json.RawMessage) (any, error) {
	if params == nil {
		return nil, InvalidParams(&domain.ValidationError{Errors: []domain.FieldError{
			{Field: "params", Message: "is required"},
		}})
	}

	var req domain.LogRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, InvalidParams(map[string]string{"details": err.Error()})
	}

	res, err := h.svc.Log(ctx, audit.TransportStdio, &req)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, InvalidParams(ve)
		}
		return nil, NewError(CodeInternalError, "Failed to log interaction", map[string]string{"details": err.Error()})
	}
	return res, nil
}

func (h *Handlers) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var call ToolCallParams
	if params == nil {
		return nil, InvalidParams(map[string]string{"details": "name is required"})
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, InvalidParams(map[string]string{"details": err.Error()})
	}
	if call.Name != LogInteractionMethod {
		return nil, InvalidParams(map[string]string{"details": fmt.Sprintf("unknown tool %q", call.Name)})
	}

	args := call.Arguments
	if isNull(args) {
		args = nil
	}
	out, err := h.logInteraction(ctx, args)
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return ToolCallResult{Content: []Content{{Type: "text", Text: string(text)}}}, nil
}
