package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type httpObservation struct {
	method string
	status int
}

type recordingObserver struct {
	seen []httpObservation
}

func (o *recordingObserver) ObserveHTTP(method string, status int, d time.Duration) {
	o.seen = append(o.seen, httpObservation{method, status})
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	obs := &recordingObserver{}

	handler := RequestLogger(logger, obs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest("PUT", "/api/events/abc", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"level=WARN", "method=PUT", "path=/api/events/abc", "status=409"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
	if len(obs.seen) != 1 || obs.seen[0] != (httpObservation{"PUT", http.StatusConflict}) {
		t.Errorf("observations = %v", obs.seen)
	}
}

func TestRequestLoggerNilObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("log = %q, want status=200", buf.String())
	}
}
