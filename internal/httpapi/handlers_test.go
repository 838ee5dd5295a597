package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clrke/claude-web/internal/agent"
	"github.com/clrke/claude-web/internal/errors"
	"github.com/clrke/claude-web/internal/logging"
	"github.com/clrke/claude-web/internal/orchestrator"
	"github.com/clrke/claude-web/internal/queue"
	"github.com/clrke/claude-web/internal/session"
	"github.com/clrke/claude-web/internal/store"
)

// stubRunner fails every stage run so sessions stay where admission put
// them; handler tests exercise the HTTP mapping, not the pipeline.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
	return &agent.Result{ExitCode: 1, FailureCause: "stubbed"},
		errors.NewProcessError(inv.Stage, errors.New("stubbed")).WithExitCode(1)
}

func newServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	st := store.NewMemoryStore()
	qm := queue.NewManager(st, logging.NopLogger())
	orc := orchestrator.New(st, qm, stubRunner{}, logging.NopLogger(), orchestrator.Options{
		AgentCommand: "claude",
		ProjectRoot:  t.TempDir(),
	})
	t.Cleanup(orc.Shutdown)

	srv := httptest.NewServer(NewRouter(orc, logging.NopLogger()))
	t.Cleanup(srv.Close)
	return srv, orc
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeSession(t *testing.T, resp *http.Response) *session.Session {
	t.Helper()
	var s session.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return &s
}

func createSession(t *testing.T, srv *httptest.Server, project, feature string) *session.Session {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]string{
		"project_id":  project,
		"feature_id":  feature,
		"description": "build " + feature,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create %s/%s: status %d", project, feature, resp.StatusCode)
	}
	return decodeSession(t, resp)
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health returned %d", resp.StatusCode)
	}
	if id := resp.Header.Get("X-Request-ID"); id == "" {
		t.Error("missing request ID header")
	}
}

func TestCreateAndGet(t *testing.T) {
	srv, _ := newServer(t)

	created := createSession(t, srv, "proj", "feat")
	if created.Status != session.StatusDiscovery {
		t.Errorf("first session should be admitted active, got %s", created.Status)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/sessions/proj/feat", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get returned %d", resp.StatusCode)
	}
	got := decodeSession(t, resp)
	if got.ProjectID != "proj" || got.FeatureID != "feat" {
		t.Errorf("wrong session returned: %s", got.Key())
	}
}

func TestCreateDuplicateConflicts(t *testing.T) {
	srv, _ := newServer(t)
	createSession(t, srv, "proj", "feat")

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions", map[string]string{
		"project_id":  "proj",
		"feature_id":  "feat",
		"description": "again",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create returned %d, want 409", resp.StatusCode)
	}
}

func TestGetMissingIs404(t *testing.T) {
	srv, _ := newServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/sessions/proj/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session returned %d, want 404", resp.StatusCode)
	}
}

func TestEditQueuedSession(t *testing.T) {
	srv, _ := newServer(t)
	createSession(t, srv, "proj", "feat-a") // holds the slot
	queued := createSession(t, srv, "proj", "feat-b")

	resp := doJSON(t, http.MethodPatch, srv.URL+"/sessions/proj/feat-b", map[string]any{
		"expected_version": queued.DataVersion,
		"description":      "tightened scope",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit returned %d", resp.StatusCode)
	}
	updated := decodeSession(t, resp)
	if updated.Description != "tightened scope" {
		t.Errorf("patch not applied: %q", updated.Description)
	}
}

func TestEditConflictReturnsLatestRecord(t *testing.T) {
	srv, _ := newServer(t)
	createSession(t, srv, "proj", "feat-a")
	queued := createSession(t, srv, "proj", "feat-b")

	first := doJSON(t, http.MethodPatch, srv.URL+"/sessions/proj/feat-b", map[string]any{
		"expected_version": queued.DataVersion,
		"description":      "first writer",
	})
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first edit returned %d", first.StatusCode)
	}

	resp := doJSON(t, http.MethodPatch, srv.URL+"/sessions/proj/feat-b", map[string]any{
		"expected_version": queued.DataVersion,
		"description":      "stale writer",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale edit returned %d, want 409", resp.StatusCode)
	}

	var body struct {
		Error  string           `json:"error"`
		Latest *session.Session `json:"latest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode conflict body: %v", err)
	}
	if body.Latest == nil || body.Latest.Description != "first writer" {
		t.Errorf("conflict body must carry the latest record, got %+v", body.Latest)
	}
}

func TestEditActiveIs422(t *testing.T) {
	srv, _ := newServer(t)
	active := createSession(t, srv, "proj", "feat")

	resp := doJSON(t, http.MethodPatch, srv.URL+"/sessions/proj/feat", map[string]any{
		"expected_version": active.DataVersion,
		"description":      "not allowed",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("editing an active session returned %d, want 422", resp.StatusCode)
	}
}

func TestBackoutUnknownActionIs422(t *testing.T) {
	srv, _ := newServer(t)
	createSession(t, srv, "proj", "feat")

	resp := doJSON(t, http.MethodPost, srv.URL+"/sessions/proj/feat/backout", map[string]string{
		"action": "defer",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unknown backout action returned %d, want 422", resp.StatusCode)
	}
}

func TestQueueListing(t *testing.T) {
	srv, _ := newServer(t)
	createSession(t, srv, "proj", "feat-a")
	createSession(t, srv, "proj", "feat-b")
	createSession(t, srv, "proj", "feat-c")

	resp := doJSON(t, http.MethodGet, srv.URL+"/projects/proj/queue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue returned %d", resp.StatusCode)
	}
	var body struct {
		Queue []*session.Session `json:"queue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(body.Queue) != 2 {
		t.Fatalf("expected 2 queued sessions, got %d", len(body.Queue))
	}
	if body.Queue[0].FeatureID != "feat-b" || body.Queue[1].FeatureID != "feat-c" {
		t.Errorf("queue out of order: %s, %s", body.Queue[0].FeatureID, body.Queue[1].FeatureID)
	}
}

func TestResumeEmptyQueueIs204(t *testing.T) {
	srv, _ := newServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/projects/proj/resume", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("resume with empty queue returned %d, want 204", resp.StatusCode)
	}
}

func TestMalformedBodyIs400(t *testing.T) {
	srv, _ := newServer(t)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/sessions", bytes.NewBufferString("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body returned %d, want 400", resp.StatusCode)
	}
}
