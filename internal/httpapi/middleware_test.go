package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clrke/claude-web/internal/logging"
)

func TestRequestIDThreadedThroughContextAndLogs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "http.log")
	logger, err := logging.NewLogger(logPath, "info")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	var ctxID string
	handler := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	headerID := rec.Header().Get("X-Request-ID")
	if headerID == "" {
		t.Fatal("missing X-Request-ID header")
	}
	if ctxID != headerID {
		t.Errorf("context ID %q does not match header ID %q", ctxID, headerID)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), headerID) {
		t.Errorf("log entry does not carry the request ID %q:\n%s", headerID, data)
	}
}

func TestRequestIDFromContextEmptyWithoutMiddleware(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := RequestIDFromContext(r.Context()); id != "" {
		t.Errorf("expected empty request ID, got %q", id)
	}
}
