package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := chimw.RequestID(RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/info/rules", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("status field = %v", fields["status"])
	}
	if fields["bytes"] != int64(len("short and stout")) {
		t.Fatalf("bytes field = %v", fields["bytes"])
	}
	if fields["path"] != "/api/info/rules" {
		t.Fatalf("path field = %v", fields["path"])
	}
	if id, _ := fields["request_id"].(string); id == "" {
		t.Fatalf("request id not logged")
	}
}
