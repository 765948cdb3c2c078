package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/depth"
	"github.com/starford/flashsync/internal/flashcards"
	"github.com/starford/flashsync/internal/index"
	"github.com/starford/flashsync/internal/notice"
	"github.com/starford/flashsync/internal/reconcile"
	"github.com/starford/flashsync/internal/storage"
	"github.com/starford/flashsync/internal/testutil"
)

type vault struct {
	store storage.Provider
	db    *index.DB
}

func (v vault) write(t *testing.T, path, content string) {
	t.Helper()
	testutil.WriteNote(t, v.store, v.db, path, content)
}

func testServer(t *testing.T) (*Server, vault) {
	t.Helper()

	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	logger := testutil.QuietLogger()

	cls := concept.NewClassifier([]concept.Mapping{{
		ConceptFolder:   "physics/concepts",
		FlashcardFolder: "physics/cards",
		TagPrefix:       "#flashcard/physics",
	}})
	calc := depth.New(db, store.Stat)
	rec := reconcile.New(store, calc, cls, db, reconcile.FormatWikilink, logger)
	svc := flashcards.NewService(store, cls, rec, calc, &notice.Recorder{}, logger)
	t.Cleanup(svc.Close)

	return New(svc, "test"), vault{store: store, db: db}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "reconcile_all":
		result, err = srv.reconcileAll(ctx, req)
	case "reconcile_concept":
		result, err = srv.reconcileConcept(ctx, req)
	case "concept_depth":
		result, err = srv.conceptDepth(ctx, req)
	case "list_concepts":
		result, err = srv.listConcepts(ctx, req)
	case "get_flashcard_contract":
		result, err = srv.getFlashcardContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestReconcileAll(t *testing.T) {
	srv, v := testServer(t)
	v.write(t, "physics/concepts/Gravity.md", "")
	v.write(t, "physics/cards/F Gravity.md", "Q\n")

	r := callTool(t, srv, "reconcile_all", map[string]interface{}{})
	if r.IsError {
		t.Fatalf("reconcile_all failed: %s", resultText(r))
	}
	var rep flashcards.Report
	if err := json.Unmarshal([]byte(resultText(r)), &rep); err != nil {
		t.Fatalf("result is not a report: %v", err)
	}
	if rep.Checked != 1 || rep.Updated != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestReconcileConcept(t *testing.T) {
	srv, v := testServer(t)
	v.write(t, "physics/concepts/Gravity.md", "")
	v.write(t, "physics/concepts/Orbits.md", "[[Gravity]]")
	v.write(t, "physics/cards/F Orbits.md", "Q\n")

	r := callTool(t, srv, "reconcile_concept", map[string]interface{}{"path": "physics/concepts/Orbits.md"})
	if r.IsError {
		t.Fatalf("reconcile_concept failed: %s", resultText(r))
	}
	var out reconcile.Outcome
	_ = json.Unmarshal([]byte(resultText(r)), &out)
	if out.Depth != 2 || !out.Changed() {
		t.Errorf("outcome = %+v", out)
	}
}

func TestReconcileConcept_Errors(t *testing.T) {
	srv, v := testServer(t)
	v.write(t, "physics/concepts/Gravity.md", "")

	r := callTool(t, srv, "reconcile_concept", map[string]interface{}{"path": "physics/concepts/Gravity.md"})
	if !r.IsError || !strings.HasPrefix(resultText(r), "not found:") {
		t.Errorf("missing flashcard = %q", resultText(r))
	}

	r = callTool(t, srv, "reconcile_concept", map[string]interface{}{"path": "notes/x.md"})
	if !r.IsError || !strings.HasPrefix(resultText(r), "not in a concept folder:") {
		t.Errorf("outside folders = %q", resultText(r))
	}

	r = callTool(t, srv, "reconcile_concept", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error without path")
	}
}

func TestConceptDepth(t *testing.T) {
	srv, v := testServer(t)
	v.write(t, "physics/concepts/Gravity.md", "")
	v.write(t, "physics/concepts/Orbits.md", "[[Gravity]]")
	v.write(t, "physics/concepts/Loop.md", "[[Loop]]")

	r := callTool(t, srv, "concept_depth", map[string]interface{}{"path": "physics/concepts/Orbits.md"})
	if text := resultText(r); r.IsError || text != "2" {
		t.Errorf("depth = %q", text)
	}

	r = callTool(t, srv, "concept_depth", map[string]interface{}{"path": "physics/concepts/Loop.md"})
	if !r.IsError || !strings.Contains(resultText(r), "cyclic") {
		t.Errorf("cycle = %q", resultText(r))
	}

	r = callTool(t, srv, "concept_depth", map[string]interface{}{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestListConcepts(t *testing.T) {
	srv, v := testServer(t)

	r := callTool(t, srv, "list_concepts", map[string]interface{}{})
	if text := resultText(r); text != "no concepts found" {
		t.Errorf("empty list = %q", text)
	}

	v.write(t, "physics/concepts/Gravity.md", "")
	v.write(t, "physics/cards/F Gravity.md", "")
	v.write(t, "physics/concepts/Skip.md", "---\nno-flashcard: true\n---\n")

	r = callTool(t, srv, "list_concepts", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "physics/concepts/Gravity.md\tdepth 1\tphysics/cards/F Gravity.md") {
		t.Errorf("list missing gravity:\n%s", text)
	}
	if !strings.Contains(text, "physics/concepts/Skip.md\texempt") {
		t.Errorf("list missing exempt note:\n%s", text)
	}
}

func TestFlashcardContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_flashcard_contract", map[string]interface{}{})
	if !strings.Contains(resultText(r), "flashcard-for") {
		t.Error("contract should describe the back-reference field")
	}

	contents, err := srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != contractURI {
		t.Errorf("resource contents = %#v", contents[0])
	}
}
