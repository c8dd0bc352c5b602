package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/rag"
	"github.com/flarexio/ragblade/vector"
)

func TestUnmarshalInitializeRequest(t *testing.T) {
	assert := assert.New(t)

	input := []byte(`{
	  "jsonrpc": "2.0",
	  "id": 1,
	  "method": "initialize",
	  "params": {
	    "protocolVersion": "2024-11-05",
	    "capabilities": {
	      "roots": {
	        "listChanged": true
	      },
	      "sampling": {},
	      "elicitation": {}
	    },
	    "clientInfo": {
	      "name": "ExampleClient",
	      "title": "Example Client Display Name",
	      "version": "1.0.0"
	    }
	  }
	}`)

	var req JSONRPCRequest
	if err := json.Unmarshal(input, &req); err != nil {
		assert.Fail(err.Error())
		return
	}

	var params mcp.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(mcp.JSONRPC_VERSION, req.JSONRPC)
	assert.Equal(mcp.NewRequestId(int64(1)), req.ID)
	assert.Equal(mcp.MethodInitialize, req.Method)
	assert.Equal("2024-11-05", params.ProtocolVersion)
}

func TestUnmarshalCallToolRequest(t *testing.T) {
	assert := assert.New(t)

	input := []byte(`{
	  "jsonrpc": "2.0",
	  "id": 2,
	  "method": "tools/call",
	  "params": {
	    "name": "search_fragments",
	    "arguments": {
	      "query": "towing capacity",
	      "k": 3
	    }
	  }
	}`)

	var req JSONRPCRequest
	if err := json.Unmarshal(input, &req); err != nil {
		assert.Fail(err.Error())
		return
	}

	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		assert.Fail(err.Error())
		return
	}

	var args SearchFragmentsArguments
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(mcp.JSONRPC_VERSION, req.JSONRPC)
	assert.Equal(mcp.NewRequestId(int64(2)), req.ID)
	assert.Equal(mcp.MethodToolsCall, req.Method)
	assert.Equal(ToolSearchFragments, params.Name)
	assert.Equal("towing capacity", args.Query)
	assert.Equal(3, args.K)
}

type stubService struct {
	ragblade.Service

	question string
	query    string
	k        int
	err      error
}

func (s *stubService) Search(ctx context.Context, query string, k int, filter vector.Filter) (vector.Result, error) {
	s.query, s.k = query, k
	if s.err != nil {
		return nil, s.err
	}

	return vector.Result{{ID: "towing.md#00000", Content: "The truck can tow.", Score: 0.9}}, nil
}

func (s *stubService) Answer(ctx context.Context, question string) (ragblade.Answer, error) {
	s.question = question
	if s.err != nil {
		return ragblade.Answer{}, s.err
	}

	return ragblade.Answer{
		Question:  question,
		Text:      "It tows 9,500 pounds.",
		Fragments: []string{"towing.md#00000"},
	}, nil
}

func callTool(t *testing.T, svc ragblade.Service, params string) mcp.JSONRPCMessage {
	t.Helper()

	req := JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(int64(7)),
		Method:  mcp.MethodToolsCall,
		Params:  json.RawMessage(params),
	}

	return CallToolEndpoint(svc)(context.Background(), req)
}

func toolText(t *testing.T, msg mcp.JSONRPCMessage) (string, bool) {
	t.Helper()

	resp, ok := msg.(mcp.JSONRPCResponse)
	require.True(t, ok)

	result, ok := resp.Result.(*mcp.CallToolResult)
	require.True(t, ok)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	return text.Text, result.IsError
}

func TestCallSearchFragments(t *testing.T) {
	assert := assert.New(t)

	svc := new(stubService)
	msg := callTool(t, svc, `{"name":"search_fragments","arguments":{"query":"tow","k":2}}`)

	text, isError := toolText(t, msg)
	assert.False(isError)
	assert.Equal("tow", svc.query)
	assert.Equal(2, svc.k)

	var result vector.Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal([]string{"towing.md#00000"}, result.IDs())
}

func TestCallAnswerQuestion(t *testing.T) {
	assert := assert.New(t)

	svc := new(stubService)
	msg := callTool(t, svc, `{"name":"answer_question","arguments":{"question":"How much can it tow?"}}`)

	text, isError := toolText(t, msg)
	assert.False(isError)
	assert.Equal("How much can it tow?", svc.question)

	var answer ragblade.Answer
	if err := json.Unmarshal([]byte(text), &answer); err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal("It tows 9,500 pounds.", answer.Text)
	assert.Equal([]string{"towing.md#00000"}, answer.Fragments)
}

func TestCallToolFailureIsToolError(t *testing.T) {
	assert := assert.New(t)

	svc := &stubService{err: fmt.Errorf("%w: slow down", rag.ErrRateLimited)}
	msg := callTool(t, svc, `{"name":"answer_question","arguments":{"question":"q"}}`)

	text, isError := toolText(t, msg)
	assert.True(isError)
	assert.Contains(text, "rate limited")
}

func TestCallUnknownTool(t *testing.T) {
	assert := assert.New(t)

	msg := callTool(t, new(stubService), `{"name":"get_weather"}`)

	resp, ok := msg.(mcp.JSONRPCError)
	if !assert.True(ok) {
		return
	}

	assert.Equal(mcp.INVALID_PARAMS, resp.Error.Code)
	assert.Contains(resp.Error.Message, "get_weather")
}

func TestListTools(t *testing.T) {
	assert := assert.New(t)

	req := JSONRPCRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(int64(3)),
		Method:  mcp.MethodToolsList,
	}

	msg := ListToolsEndpoint(new(stubService))(context.Background(), req)

	resp, ok := msg.(mcp.JSONRPCResponse)
	if !assert.True(ok) {
		return
	}

	result, ok := resp.Result.(*mcp.ListToolsResult)
	if !assert.True(ok) {
		return
	}

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}

	assert.Equal([]string{ToolSearchFragments, ToolAnswerQuestion}, names)
	assert.Contains(result.Tools[0].InputSchema.Required, "query")
}
