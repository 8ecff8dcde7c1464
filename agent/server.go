package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/arctek/reviewsrv/review"
)

// Server dispatches JSON-RPC frames against a review.Engine. It holds no
// per-connection state, so the same Server safely backs both the stdio
// carrier (one persistent connection) and the HTTP carrier (one request
// per RPC, stateless per SPEC_FULL.md §6).
type Server struct {
	engine *review.Engine
	logger *slog.Logger
}

// New creates a Server backed by engine. logger should write to stderr
// when the stdio carrier is in use, since stdout is reserved for JSON-RPC
// frames and the process's one-line readiness banner.
func New(engine *review.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}

// Dispatch routes one request to its handler and always returns a
// Response, except for the JSON-RPC "notification" convention
// (method starting with no reply expected) which here is limited to
// "notifications/initialized".
func (s *Server) Dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.handleResourcesList(req)
	case "resources/read":
		return s.handleResourcesRead(req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	return resultResponse(req.ID, map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "reviewsrv",
			"version": "1.0.0",
		},
	})
}

func (s *Server) handleToolsList(req *Request) *Response {
	return resultResponse(req.ID, map[string]interface{}{"tools": []interface{}{askQuestionsToolDef}})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params", err.Error())
	}

	switch params.Name {
	case "ask_questions":
		result := s.askQuestions(ctx, params.Arguments)
		return resultResponse(req.ID, toolTextResult(result))
	default:
		return errorResponse(req.ID, codeInvalidParams, "tool not found", params.Name)
	}
}

func (s *Server) handleResourcesList(req *Request) *Response {
	return resultResponse(req.ID, map[string]interface{}{"resources": resourceTemplates})
}

func (s *Server) handleResourcesRead(req *Request) *Response {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "invalid params", err.Error())
	}
	contents, err := s.readResource(params.URI)
	if err != nil {
		return errorResponse(req.ID, codeInvalidParams, err.Error(), params.URI)
	}
	return resultResponse(req.ID, map[string]interface{}{"contents": contents})
}

// toolTextResult wraps a JSON-serializable value as the MCP "content" array
// shape the agent host expects, matching the pack's mcpserver convention of
// returning tool output as a single text block.
func toolTextResult(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{"success":false,"error":"internal error"}`)
	}
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(data)},
		},
	}
}
