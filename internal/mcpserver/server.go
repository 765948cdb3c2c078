// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes flashcard tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/flashcards"
)

const contractURI = "flashsync://flashcard-format"

// Server wraps the MCP server with flashcard tools.
type Server struct {
	mcp *server.MCPServer
	svc *flashcards.Service
}

// New creates a new MCP server with all flashcard tools registered.
func New(svc *flashcards.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Flashsync",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("reconcile_all",
		mcp.WithDescription("Reconcile the depth tag and back-reference of every flashcard "+
			"in every concept folder. Returns counts of checked, updated, skipped, missing and failed flashcards."),
	), s.reconcileAll)

	s.mcp.AddTool(mcp.NewTool("reconcile_concept",
		mcp.WithDescription("Reconcile the flashcard paired with one concept note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the concept note (e.g. physics/concepts/Orbits.md)")),
	), s.reconcileConcept)

	s.mcp.AddTool(mcp.NewTool("concept_depth",
		mcp.WithDescription("Compute the depth of a note: 1 plus the largest depth among the notes it links to."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the note")),
	), s.conceptDepth)

	s.mcp.AddTool(mcp.NewTool("list_concepts",
		mcp.WithDescription("List the concept notes of every concept folder with their flashcard paths and depths."),
	), s.listConcepts)

	s.mcp.AddTool(mcp.NewTool("get_flashcard_contract",
		mcp.WithDescription("Returns how concepts and flashcards are paired and which header fields are maintained. "+
			"Call this before editing flashcards by hand."),
	), s.getFlashcardContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Flashcard Format Contract",
			mcp.WithResourceDescription("How concept notes and flashcards are paired and maintained."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

// toolError turns domain errors into readable tool errors.
func toolError(path string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	case errors.Is(err, apperr.ErrNotConfigured):
		return mcp.NewToolResultError(fmt.Sprintf("not in a concept folder: %s", path))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func (s *Server) reconcileAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.svc.ReconcileAll(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep), nil
}

func (s *Server) reconcileConcept(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.ReconcileConcept(ctx, path)
	if err != nil {
		return toolError(path, err), nil
	}
	return jsonResult(out), nil
}

func (s *Server) conceptDepth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Depth(ctx, path)
	if err != nil {
		return toolError(path, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", d)), nil
}

func (s *Server) listConcepts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.ListConcepts(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no concepts found"), nil
	}

	var b strings.Builder
	for _, c := range items {
		switch {
		case c.Exempt:
			fmt.Fprintf(&b, "%s\texempt\n", c.Path)
		case c.Error != "":
			fmt.Fprintf(&b, "%s\terror: %s\n", c.Path, c.Error)
		case !c.FlashcardExists:
			fmt.Fprintf(&b, "%s\tdepth %d\tno flashcard at %s\n", c.Path, c.Depth, c.Flashcard)
		default:
			fmt.Fprintf(&b, "%s\tdepth %d\t%s\n", c.Path, c.Depth, c.Flashcard)
		}
	}
	return mcp.NewToolResultText(strings.TrimSuffix(b.String(), "\n")), nil
}

func (s *Server) getFlashcardContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(FlashcardFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     FlashcardFormatContract,
		},
	}, nil
}
