package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/faultgate/internal/store"
)

func TestOpenSearchSinkSend(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewOpenSearchSink(srv.URL+"/", "faultgate-outcomes")
	err := sink.Send(context.Background(), Event{
		OccurredAt: time.Now(),
		Outcome: store.Outcome{
			ToolName: "svc", Category: "query",
			Duration: 150 * time.Millisecond, Success: true,
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/faultgate-outcomes/_doc" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotBody == nil {
		t.Fatalf("no body received")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenSearchSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewOpenSearchSink(srv.URL, "idx")
	if err := sink.Send(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error on 5xx response")
	}
}
