package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"github.com/ThinkInAIXYZ/go-mcp/transport"

	"github.com/coldforge/decoder-engine/decoder"
)

// opsServer exposes a running decoder.Engine over MCP so an operator or an
// agent can inspect and steer it without a bespoke HTTP API, the same role
// the teacher's MCPServer plays for a Docker daemon.
type opsServer struct {
	engine    *decoder.Engine
	port      int
	mcpServer *server.Server
}

func newOpsServer(engine *decoder.Engine, port int) (*opsServer, error) {
	s := &opsServer{engine: engine, port: port}

	t := transport.NewStreamableHTTPServerTransport(
		fmt.Sprintf(":%d", port),
		transport.WithStreamableHTTPServerTransportOptionEndpoint("/mcp"),
		transport.WithStreamableHTTPServerTransportOptionStateMode(transport.Stateful),
	)

	mcpServer, err := server.NewServer(
		t,
		server.WithServerInfo(protocol.Implementation{
			Name:    "decoder-engine-mcp",
			Version: "dev",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	s.mcpServer = mcpServer

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

func (s *opsServer) registerTools() error {
	listStreamsTool, err := protocol.NewTool(
		"list_streams",
		"List generation streams known to the engine, with status and progress",
		ListStreamsArgs{},
	)
	if err != nil {
		return fmt.Errorf("failed to create list_streams tool: %w", err)
	}
	s.mcpServer.RegisterTool(listStreamsTool, s.handleListStreams)

	engineStatsTool, err := protocol.NewTool(
		"engine_stats",
		"Get the engine's current batch size, wait queue depth, and cache usage",
		EngineStatsArgs{},
	)
	if err != nil {
		return fmt.Errorf("failed to create engine_stats tool: %w", err)
	}
	s.mcpServer.RegisterTool(engineStatsTool, s.handleEngineStats)

	cancelStreamTool, err := protocol.NewTool(
		"cancel_stream",
		"Cancel a queued or running generation stream by request id",
		CancelStreamArgs{},
	)
	if err != nil {
		return fmt.Errorf("failed to create cancel_stream tool: %w", err)
	}
	s.mcpServer.RegisterTool(cancelStreamTool, s.handleCancelStream)

	return nil
}

func (s *opsServer) Start() error {
	return s.mcpServer.Run()
}

func (s *opsServer) Shutdown(ctx context.Context) error {
	return s.mcpServer.Shutdown(ctx)
}

func textResult(text string) *protocol.CallToolResult {
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			&protocol.TextContent{Type: "text", Text: text},
		},
	}
}

type streamView struct {
	RequestID  uint64 `json:"request_id"`
	Status     string `json:"status"`
	StopReason string `json:"stop_reason,omitempty"`
	Produced   int    `json:"produced_tokens"`
}

func (s *opsServer) handleListStreams(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(ListStreamsArgs)
	if err := protocol.VerifyAndUnmarshal(request.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	streams := s.engine.ListStreams()
	sort.Slice(streams, func(i, j int) bool { return streams[i].RequestID() < streams[j].RequestID() })

	views := make([]streamView, 0, len(streams))
	for _, st := range streams {
		status := st.Status()
		if status.IsTerminal() && !args.IncludeFinished {
			continue
		}
		out, _ := st.Wait(ctx, 0)
		views = append(views, streamView{
			RequestID:  st.RequestID(),
			Status:     status.String(),
			StopReason: out.StopReason,
			Produced:   len(out.Produced),
		})
	}

	payload, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode streams: %w", err)
	}
	return textResult(string(payload)), nil
}

func (s *opsServer) handleEngineStats(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	stats := s.engine.Stats()
	payload, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode stats: %w", err)
	}
	return textResult(string(payload)), nil
}

func (s *opsServer) handleCancelStream(ctx context.Context, request *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	args := new(CancelStreamArgs)
	if err := protocol.VerifyAndUnmarshal(request.RawArguments, args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	reason := args.Reason
	if reason == "" {
		reason = "cancelled via MCP"
	}

	if !s.engine.CancelStream(args.RequestID, reason) {
		return textResult(fmt.Sprintf("no such stream: %d", args.RequestID)), nil
	}
	return textResult(fmt.Sprintf("cancelled stream %d", args.RequestID)), nil
}
