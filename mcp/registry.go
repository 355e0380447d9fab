package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
	"github.com/Clinical-Copilot/Medical-Deep-Research/tool"
)

// Session is the subset of the MCP client used by the registry. Narrowed to
// an interface so tests can substitute a fake server.
type Session interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// DialFunc establishes an initialized session with one MCP server.
type DialFunc func(ctx context.Context, name string, cfg ServerConfig) (Session, error)

// Options configure the Registry.
type Options struct {
	Logger logging.Logger

	// Dial overrides how server sessions are established. Nil uses the
	// mcp-go stdio / SSE clients.
	Dial DialFunc
}

// Registry resolves configured MCP servers into role scoped tool sets.
// Sessions are established lazily on first use and cached until Close.
type Registry struct {
	cfg    *Config
	logger logging.Logger
	dial   DialFunc

	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry creates a Registry over a loaded config.
func NewRegistry(cfg *Config, optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	dial := opts.Dial
	if dial == nil {
		dial = dialServer
	}
	return &Registry{
		cfg:      cfg,
		logger:   opts.Logger,
		dial:     dial,
		sessions: map[string]Session{},
	}
}

// ServersForRole returns the names of servers that provide tools to a role,
// i.e. servers with a non-empty enabled_tools list targeting the role.
func (r *Registry) ServersForRole(role string) []string {
	var names []string
	for name, sc := range r.cfg.Servers {
		if sc.enabledFor(role) {
			names = append(names, name)
		}
	}
	return names
}

// ToolsForRole discovers and adapts the enabled tools of every server
// targeting the given role. A server that cannot be reached or listed is
// logged and skipped so the caller can fall back to default tools.
func (r *Registry) ToolsForRole(ctx context.Context, role string) ([]tool.Tool, error) {
	var tools []tool.Tool
	for name, sc := range r.cfg.Servers {
		if !sc.enabledFor(role) {
			continue
		}
		serverTools, err := r.serverTools(ctx, name, sc)
		if err != nil {
			r.logger.Warn("mcp.discovery.failed", "server", name, "role", role, "error", err.Error())
			continue
		}
		tools = append(tools, serverTools...)
	}
	return tools, nil
}

func (r *Registry) serverTools(ctx context.Context, name string, sc ServerConfig) ([]tool.Tool, error) {
	sess, err := r.session(ctx, name, sc)
	if err != nil {
		return nil, err
	}

	listed, err := sess.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	var tools []tool.Tool
	for _, t := range listed.Tools {
		if !sc.toolEnabled(t.Name) {
			continue
		}
		tools = append(tools, &mcpTool{
			server:      name,
			name:        t.Name,
			description: fmt.Sprintf("Powered by '%s'.\n%s", name, t.Description),
			parameters:  schemaToMap(t.InputSchema),
			sess:        sess,
		})
	}

	r.logger.Info("mcp.discovery.done", "server", name, "tools", len(tools))

	return tools, nil
}

func (r *Registry) session(ctx context.Context, name string, sc ServerConfig) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[name]; ok {
		return sess, nil
	}
	sess, err := r.dial(ctx, name, sc)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", name, err)
	}
	r.sessions[name] = sess
	return sess, nil
}

// Close terminates all cached server sessions.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, sess := range r.sessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
		delete(r.sessions, name)
	}
	return firstErr
}

// dialServer is the production DialFunc backed by mcp-go clients.
func dialServer(ctx context.Context, name string, cfg ServerConfig) (Session, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.Transport {
	case TransportStdio:
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		c, err = client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
		if err != nil {
			return nil, err
		}
	case TransportSSE:
		c, err = client.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "meddr", Version: "0.1.0"}

	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}

	return c, nil
}

// schemaToMap converts an MCP input schema into the generic JSON schema map
// used by tool definitions.
func schemaToMap(s mcp.ToolInputSchema) map[string]any {
	m := map[string]any{
		"type": "object",
	}
	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Properties != nil {
		m["properties"] = s.Properties
	} else {
		m["properties"] = map[string]any{}
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

// mcpTool adapts one remote MCP tool to the local tool.Tool interface.
type mcpTool struct {
	server      string
	name        string
	description string
	parameters  map[string]any
	sess        Session
}

// Name returns the remote tool name.
func (t *mcpTool) Name() string { return t.name }

// Description returns the provider annotated description.
func (t *mcpTool) Description() string { return t.description }

// Parameters returns the remote input schema.
func (t *mcpTool) Parameters() map[string]any { return t.parameters }

// Call forwards the invocation to the MCP server and flattens text content
// blocks into a single string result.
func (t *mcpTool) Call(toolCtx *tool.Context, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	res, err := t.sess.CallTool(toolCtx.Context(), req)
	if err != nil {
		return nil, &tool.ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	text := flattenContent(res.Content)
	if res.IsError {
		return nil, &tool.ToolError{
			Tool:    t.name,
			Message: text,
			Code:    "EXECUTION_ERROR",
		}
	}
	return text, nil
}

func flattenContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
