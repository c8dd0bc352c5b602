package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flarexio/ragblade"
)

var ErrUnknownTool = errors.New("unknown tool")

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func ErrorResponse(id mcp.RequestId, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		}{
			Code:    code,
			Message: message,
		},
	}
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `RAGBlade answers questions from an indexed document collection:

1. **Fragment Search**: Find the document fragments closest to a natural language query
2. **Grounded Answers**: Answer a question using only the retrieved fragments

Available tools:
- search_fragments: Return ranked fragments with their scores and source documents
- answer_question: Return an answer together with the fragments it was based on

When nothing relevant is indexed the answer says so instead of guessing.`

const (
	ToolSearchFragments = "search_fragments"
	ToolAnswerQuestion  = "answer_question"
)

func Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolSearchFragments,
			mcp.WithDescription("Search the document collection for the fragments most similar to a query."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Natural language search query"),
			),
			mcp.WithNumber("k",
				mcp.Description("Maximum number of fragments to return"),
			),
		),
		mcp.NewTool(ToolAnswerQuestion,
			mcp.WithDescription("Answer a question using fragments retrieved from the document collection."),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The question to answer"),
			),
		),
	}
}

func InitializeEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		protocolVersion := mcp.LATEST_PROTOCOL_VERSION
		if clientVersion := params.ProtocolVersion; clientVersion != "" {
			if slices.Contains(mcp.ValidProtocolVersions, clientVersion) {
				protocolVersion = clientVersion
			}
		}

		result := &mcp.InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{},
			},
			ServerInfo: mcp.Implementation{
				Name:    "ragblade",
				Version: "1.0.0",
			},
			Instructions: MCPSERVER_INSTRUCTIONS,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func PingEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{}, // empty response
		}
	}
}

func ListToolsEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		result := &mcp.ListToolsResult{
			Tools: Tools(),
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type SearchFragmentsArguments struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type AnswerQuestionArguments struct {
	Question string `json:"question"`
}

func CallToolEndpoint(svc ragblade.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		var (
			result any
			err    error
		)

		switch params.Name {
		case ToolSearchFragments:
			var args SearchFragmentsArguments
			if err := unmarshalArguments(params.Arguments, &args); err != nil {
				return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}

			result, err = svc.Search(ctx, args.Query, args.K, nil)

		case ToolAnswerQuestion:
			var args AnswerQuestionArguments
			if err := unmarshalArguments(params.Arguments, &args); err != nil {
				return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}

			result, err = svc.Answer(ctx, args.Question)

		default:
			err := fmt.Errorf("%w: %s", ErrUnknownTool, params.Name)
			return ErrorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		// tool failures are reported in the result so the model can react
		if err != nil {
			return mcp.JSONRPCResponse{
				JSONRPC: mcp.JSONRPC_VERSION,
				ID:      req.ID,
				Result:  mcp.NewToolResultError(err.Error()),
			}
		}

		bs, err := json.Marshal(result)
		if err != nil {
			return ErrorResponse(req.ID, mcp.INTERNAL_ERROR, err.Error())
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  mcp.NewToolResultText(string(bs)),
		}
	}
}

func unmarshalArguments(raw json.RawMessage, v any) error {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil
	}

	return json.Unmarshal(raw, v)
}
