// Package mcp exposes the terminal command registry as Model Context
// Protocol tools.
//
// Every registered command becomes one tool. A tool call is turned back into
// a command line and run through the dispatcher, so MCP clients see exactly
// what the agent sees: the same policy gate, the same log sink and the same
// error text.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"cypher/terminal"

	"github.com/kballard/go-shellquote"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// ServerName is the name reported to MCP clients.
const ServerName = "cypher"

// Server wraps the mcp-go server around a dispatcher.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	dispatcher *terminal.Dispatcher
	tools      []mcplib.Tool
	logger     *slog.Logger
}

// NewServer registers one tool per command in registry. A nil logger uses
// slog.Default.
func NewServer(registry *terminal.Registry, dispatcher *terminal.Dispatcher, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dispatcher: dispatcher,
		logger:     logger,
		mcpServer: mcpserver.NewMCPServer(
			ServerName,
			version,
			mcpserver.WithToolCapabilities(false),
		),
	}

	for _, cmd := range registry.All() {
		tool := CommandTool(cmd)
		s.tools = append(s.tools, tool)
		s.mcpServer.AddTool(tool, s.handler(cmd))
	}
	logger.Debug("mcp tools registered", "count", len(s.tools))
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Tools returns the registered tool definitions in registry order.
func (s *Server) Tools() []mcplib.Tool { return append([]mcplib.Tool(nil), s.tools...) }

// ServeStdio serves the protocol on the process's stdin and stdout until
// ctx ends or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve serves the protocol over the given streams.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(log.New(io.Discard, "", 0))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: serve stdio: %w", err)
	}
	return nil
}

// CommandTool describes cmd as an MCP tool. The rest parameter becomes an
// array of strings; every other parameter keeps its declared type.
func CommandTool(cmd terminal.Command) mcplib.Tool {
	opts := []mcplib.ToolOption{mcplib.WithDescription(cmd.Description)}

	for _, p := range cmd.Parameters {
		props := []mcplib.PropertyOption{mcplib.Description(p.Description)}
		if p.Required {
			props = append(props, mcplib.Required())
		}

		switch {
		case p.Name == terminal.RestParameterName:
			props = append(props, mcplib.Items(map[string]any{"type": "string"}))
			opts = append(opts, mcplib.WithArray(p.Name, props...))
		case p.Type == terminal.TypeNumber:
			if def, err := strconv.ParseFloat(p.Default, 64); err == nil {
				props = append(props, mcplib.DefaultNumber(def))
			}
			opts = append(opts, mcplib.WithNumber(p.Name, props...))
		case p.Type == terminal.TypeBoolean:
			if p.Default != "" {
				props = append(props, mcplib.DefaultBool(p.Default == "true"))
			}
			opts = append(opts, mcplib.WithBoolean(p.Name, props...))
		default:
			if p.Default != "" {
				props = append(props, mcplib.DefaultString(p.Default))
			}
			opts = append(opts, mcplib.WithString(p.Name, props...))
		}
	}

	return mcplib.NewTool(cmd.Name, opts...)
}

func (s *Server) handler(cmd terminal.Command) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		line, err := CommandLine(cmd, request.GetArguments())
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}

		exec := s.dispatcher.Execute(ctx, line)
		s.logger.Debug("mcp tool call", "tool", cmd.Name, "success", exec.Success)
		if !exec.Success {
			return mcplib.NewToolResultError(exec.Output), nil
		}
		return mcplib.NewToolResultText(exec.Output), nil
	}
}

// CommandLine renders tool arguments as a shell-quoted command line that
// binds back to the same parameters. Binding is positional, so an omitted
// optional parameter followed by a set one is filled with its default, and
// is an error when it has none.
func CommandLine(cmd terminal.Command, args map[string]any) (string, error) {
	words := []string{cmd.Name}
	var pending []terminal.Parameter

	for _, p := range cmd.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return "", fmt.Errorf("missing required parameter: %s", p.Name)
			}
			pending = append(pending, p)
			continue
		}

		for _, q := range pending {
			if q.Default == "" || q.Name == terminal.RestParameterName {
				return "", fmt.Errorf("parameter %s must be set when %s is set", q.Name, p.Name)
			}
			words = append(words, q.Default)
		}
		pending = nil

		if p.Name == terminal.RestParameterName {
			words = append(words, listWords(v)...)
			continue
		}
		words = append(words, word(v))
	}

	return shellquote.Join(words...), nil
}

func listWords(v any) []string {
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, word(item))
		}
		return out
	case []string:
		return list
	case string:
		return strings.Fields(list)
	default:
		return []string{word(v)}
	}
}

func word(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
