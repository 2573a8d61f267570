package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/paperqa/internal/guard"
)

// MCPClientID is the rate-limit identity shared by all MCP callers of one
// stdio server.
const MCPClientID = "mcp-stdio"

// NewMCPServer creates an MCP server exposing job submission and status.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"paperqa",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("paperqa answers research questions from a biomedical literature corpus. Submit a query, then poll job_status until it completes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_query",
			mcp.WithDescription("Submit a research question against a corpus. Returns a job id to poll with job_status."),
			mcp.WithString("corpus_id", mcp.Description("Corpus to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("The research question"), mcp.Required()),
			mcp.WithString("complexity", mcp.Description("simple, moderate or complex (default moderate)")),
			mcp.WithBoolean("verify", mcp.Description("Check the answer against its sources")),
			mcp.WithString("output_style", mcp.Description("structured or narrative")),
			mcp.WithString("model", mcp.Description("Completion model override")),
			mcp.WithNumber("max_chunks_per_paper", mcp.Description("Chunks allowed per source paper (1-10)")),
			mcp.WithNumber("target_tokens", mcp.Description("Context token budget (100-10000)")),
			mcp.WithNumber("similarity_threshold", mcp.Description("Minimum similarity for listed matches (0.1-1)")),
			mcp.WithNumber("vector_weight", mcp.Description("Weight of vector similarity (0-1)")),
			mcp.WithNumber("lexical_weight", mcp.Description("Weight of lexical relevance (0-1)")),
		),
		mcpSubmitQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Read the status of a submitted job, including the answer and sources once completed."),
			mcp.WithString("job_id", mcp.Description("Job id returned by submit_query"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"corpora://list",
			"Corpora",
			mcp.WithResourceDescription("Registered corpora and their embedding models"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCorpora(deps),
	)

	return s
}

// decodeToolRequest maps loosely typed tool arguments onto a submission.
func decodeToolRequest(args map[string]any) (guard.Request, error) {
	var req guard.Request
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &req,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return req, err
	}
	if err := dec.Decode(args); err != nil {
		return req, err
	}
	return req, nil
}

func mcpSubmitQuery(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Limiter.Allow(MCPClientID); err != nil {
			return mcpError(err.Error()), nil
		}
		sub, err := decodeToolRequest(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		resp, err := Submit(ctx, deps, sub)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(resp)
	}
}

func mcpJobStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		job, err := deps.Jobs.Get(ctx, id)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(ViewOf(job, time.Now().UTC()))
	}
}

func mcpResourceCorpora(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := corpusViews(ctx, deps.Corpora)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal corpora: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
