package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/topicwatch/topicwatch/pkg/types"
	"github.com/topicwatch/topicwatch/server/internal/api"
	"github.com/topicwatch/topicwatch/server/internal/auth"
	"github.com/topicwatch/topicwatch/server/internal/registry"
)

func TestFetchAndPrintTopics(t *testing.T) {
	reg := registry.New()
	reg.Upsert(types.Topic{Name: "/dummy", Type: "std_msgs/String"})
	reg.Upsert(types.Topic{Name: "/chatter", Type: "std_msgs/msg/String"})
	srv := httptest.NewServer(auth.APIKey("apikey", "x-api-key", "k")(api.New(reg)))
	defer srv.Close()

	topics, err := fetchTopics(context.Background(), srv.URL+"/", "x-api-key", "k")
	if err != nil {
		t.Fatalf("fetchTopics: %v", err)
	}

	var buf bytes.Buffer
	if err := printTopics(&buf, topics); err != nil {
		t.Fatalf("printTopics: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines: got %d, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "NAME") || !strings.Contains(lines[0], "TYPE") {
		t.Errorf("header: got %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "/chatter") || !strings.HasSuffix(lines[2], "std_msgs/String") {
		t.Errorf("rows: got %q", lines[1:])
	}
}

func TestFetchTopics_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(auth.APIKey("apikey", "x-api-key", "k")(api.New(registry.New())))
	defer srv.Close()

	if _, err := fetchTopics(context.Background(), srv.URL, "x-api-key", ""); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestFetchTopics_CustomHeader(t *testing.T) {
	reg := registry.New()
	reg.Upsert(types.Topic{Name: "/chatter", Type: "std_msgs/msg/String"})
	srv := httptest.NewServer(auth.APIKey("apikey", "x-token", "k")(api.New(reg)))
	defer srv.Close()

	if _, err := fetchTopics(context.Background(), srv.URL, "x-api-key", "k"); err == nil {
		t.Fatal("expected error when the key is sent in the wrong header")
	}
	topics, err := fetchTopics(context.Background(), srv.URL, "x-token", "k")
	if err != nil {
		t.Fatalf("fetchTopics: %v", err)
	}
	if len(topics) != 1 || topics[0].Name != "/chatter" {
		t.Errorf("topics: got %+v", topics)
	}
}

func TestFetchTopics_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json")) //nolint:errcheck
	}))
	defer srv.Close()

	if _, err := fetchTopics(context.Background(), srv.URL, "x-api-key", ""); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPrintTopics_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := printTopics(&buf, nil); err != nil {
		t.Fatalf("printTopics: %v", err)
	}
	if got := buf.String(); got != "No topics found\n" {
		t.Errorf("output: got %q", got)
	}
}

func TestSetupLogger(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "INFO"} {
		if err := setupLogger(lvl); err != nil {
			t.Errorf("setupLogger(%q): %v", lvl, err)
		}
	}
	if err := setupLogger("loud"); err == nil {
		t.Error("setupLogger(loud): expected error")
	}
}
