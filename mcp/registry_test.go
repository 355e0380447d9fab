package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clinical-Copilot/Medical-Deep-Research/logging"
	"github.com/Clinical-Copilot/Medical-Deep-Research/tool"
)

// -------------------- Config --------------------

const sampleConfig = `
servers:
  pubmed:
    transport: stdio
    command: uvx
    args: ["pubmed-mcp"]
    env:
      NCBI_API_KEY: test
    enabled_tools: ["pubmed_search"]
    add_to_agents: ["researcher"]
  compute:
    transport: sse
    url: http://localhost:8123/sse
    enabled_tools: ["run_python"]
    add_to_agents: ["coder"]
  disabled:
    transport: stdio
    command: noop
    add_to_agents: ["researcher"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 3)

	pubmed := cfg.Servers["pubmed"]
	assert.Equal(t, TransportStdio, pubmed.Transport)
	assert.Equal(t, "uvx", pubmed.Command)
	assert.Equal(t, []string{"pubmed-mcp"}, pubmed.Args)
	assert.Equal(t, "test", pubmed.Env["NCBI_API_KEY"])
	assert.Equal(t, []string{"researcher"}, pubmed.AddToAgents)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"stdio without command", "servers:\n  bad:\n    transport: stdio\n"},
		{"sse without url", "servers:\n  bad:\n    transport: sse\n"},
		{"unknown transport", "servers:\n  bad:\n    transport: websocket\n    command: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestServersForRole(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	r := NewRegistry(cfg)
	assert.ElementsMatch(t, []string{"pubmed"}, r.ServersForRole("researcher"))
	assert.ElementsMatch(t, []string{"compute"}, r.ServersForRole("coder"))
	assert.Empty(t, r.ServersForRole("reporter"))
	// "disabled" has no enabled_tools, so it never provides tools.
}

// -------------------- Discovery & tool adapter --------------------

type fakeSession struct {
	tools    []mcp.Tool
	listErr  error
	callErr  error
	isError  bool
	result   string
	lastCall mcp.CallToolRequest
	closed   bool
}

func (f *fakeSession) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeSession) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.lastCall = req
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(f.result)},
		IsError: f.isError,
	}, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func fakeDial(sessions map[string]*fakeSession) DialFunc {
	return func(_ context.Context, name string, _ ServerConfig) (Session, error) {
		if s, ok := sessions[name]; ok {
			return s, nil
		}
		return nil, errors.New("unreachable")
	}
}

func testRegistry(t *testing.T, sessions map[string]*fakeSession) *Registry {
	t.Helper()
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	return NewRegistry(cfg, func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.Dial = fakeDial(sessions)
	})
}

func TestToolsForRole_FiltersEnabledTools(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{
		{Name: "pubmed_search", Description: "Search PubMed"},
		{Name: "pubmed_fetch", Description: "Fetch abstracts"}, // not enabled
	}}
	r := testRegistry(t, map[string]*fakeSession{"pubmed": sess})

	tools, err := r.ToolsForRole(context.Background(), "researcher")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "pubmed_search", tools[0].Name())
	assert.Contains(t, tools[0].Description(), "Powered by 'pubmed'.")
	assert.Contains(t, tools[0].Description(), "Search PubMed")
}

func TestToolsForRole_SkipsUnreachableServer(t *testing.T) {
	r := testRegistry(t, map[string]*fakeSession{}) // every dial fails

	tools, err := r.ToolsForRole(context.Background(), "researcher")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestToolsForRole_SkipsListFailure(t *testing.T) {
	sess := &fakeSession{listErr: errors.New("protocol error")}
	r := testRegistry(t, map[string]*fakeSession{"pubmed": sess})

	tools, err := r.ToolsForRole(context.Background(), "researcher")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestMCPTool_Call(t *testing.T) {
	sess := &fakeSession{
		tools:  []mcp.Tool{{Name: "pubmed_search", Description: "Search PubMed"}},
		result: "3 articles found",
	}
	r := testRegistry(t, map[string]*fakeSession{"pubmed": sess})

	tools, err := r.ToolsForRole(context.Background(), "researcher")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	tc := tool.NewContext(context.Background(), "fc1", logging.NoOpLogger{})
	res, err := tools[0].Call(tc, map[string]any{"query": "aspirin"})
	require.NoError(t, err)
	assert.Equal(t, "3 articles found", res)
	assert.Equal(t, "pubmed_search", sess.lastCall.Params.Name)
}

func TestMCPTool_CallErrors(t *testing.T) {
	sess := &fakeSession{
		tools:   []mcp.Tool{{Name: "pubmed_search", Description: "Search PubMed"}},
		isError: true,
		result:  "upstream unavailable",
	}
	r := testRegistry(t, map[string]*fakeSession{"pubmed": sess})

	tools, err := r.ToolsForRole(context.Background(), "researcher")
	require.NoError(t, err)
	require.Len(t, tools, 1)

	tc := tool.NewContext(context.Background(), "fc2", logging.NoOpLogger{})
	_, err = tools[0].Call(tc, map[string]any{"query": "x"})
	require.Error(t, err)
	var toolErr *tool.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Contains(t, toolErr.Message, "upstream unavailable")
}

func TestRegistry_Close(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{{Name: "pubmed_search"}}}
	r := testRegistry(t, map[string]*fakeSession{"pubmed": sess})

	_, err := r.ToolsForRole(context.Background(), "researcher")
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, sess.closed)
}
