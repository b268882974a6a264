package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGet_ReturnsBodyAndSendsHeaders(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "room-test" {
			http.Error(w, "bad agent "+got, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer server.Close()

	body, err := Get(context.Background(), server.URL, map[string]string{"User-Agent": "room-test"}, 5*time.Second)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.HasPrefix(string(body), "BEGIN:VCALENDAR") {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestGet_StatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "calendar is private", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := Get(context.Background(), server.URL, nil, 5*time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 status error, got %v", err)
	}
	if !strings.Contains(err.Error(), "calendar is private") {
		t.Fatalf("expected body in error, got %v", err)
	}
}
