// Package mcp serves the request core as Model Context Protocol tools over
// newline-delimited JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/killer-ai/killer/pkg/models"
)

// Core is the part of the pipeline the tools call into.
type Core interface {
	Handle(ctx context.Context, req models.Request) (models.Result, error)
	QuotaStatus(ctx context.Context) models.QuotaStatus
	CacheStats() models.CacheStats
}

// Server answers MCP requests against a Core.
type Server struct {
	core    Core
	version string
	log     *zap.Logger
}

// New creates a Server.
func New(core Core, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{core: core, version: version, log: log}
}

// Run handles one request per line of r until r is exhausted or ctx is done.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error"}})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *request) *response {
	switch req.Method {
	case "initialize":
		return reply(req, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: "killer", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return reply(req, toolsListResult{Tools: toolDefinitions})
	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: "invalid params"}}
		}
		handler, ok := toolHandlers[params.Name]
		if !ok {
			return reply(req, errorResult("unknown tool: "+params.Name))
		}
		s.log.Debug("tool call", zap.String("tool", params.Name))
		return reply(req, handler(ctx, s, params.Arguments))
	default:
		return &response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}
	}
}

func reply(req *request, result any) *response {
	return &response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) write(w io.Writer, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal response", zap.Error(err))
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}
