package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMentioned(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"@assistant hello", true},
		{"@ASSISTANT hello", true},
		{"  @Assistant what is 2+2", true},
		{"@assistant", true},
		{"hello @assistant", false},
		{"assistant hello", false},
		{"", false},
		{"@assist", false},
	}
	for _, tc := range cases {
		if got := Mentioned(tc.content); got != tc.want {
			t.Errorf("Mentioned(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestPrompt(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"@assistant hello", "hello"},
		{"@ASSISTANT   what is 2+2  ", "what is 2+2"},
		{"@assistant", ""},
	}
	for _, tc := range cases {
		if got := Prompt(tc.content); got != tc.want {
			t.Errorf("Prompt(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}

type fakeInvoker struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  int
	gotKey string
}

func (f *fakeInvoker) Complete(_ context.Context, _, apiKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotKey = apiKey
	return f.reply, f.err
}

type publishRecorder struct {
	mu      sync.Mutex
	entries []struct{ roomID, reply string }
}

func (p *publishRecorder) publish(roomID, reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, struct{ roomID, reply string }{roomID, reply})
}

func (p *publishRecorder) all() []struct{ roomID, reply string } {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]struct{ roomID, reply string }(nil), p.entries...)
}

func TestBridge_CompletesAndPublishes(t *testing.T) {
	inv := &fakeInvoker{reply: "42"}
	rec := &publishRecorder{}
	b := NewBridge(inv, rec.publish, 2, 8)

	b.Dispatch(Job{RoomID: "room1", Prompt: "meaning of life", APIKey: "sk-u"})
	b.Close()

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("published %d replies, want 1", len(got))
	}
	if got[0].roomID != "room1" || got[0].reply != "42" {
		t.Errorf("published = %+v", got[0])
	}
	inv.mu.Lock()
	key := inv.gotKey
	inv.mu.Unlock()
	if key != "sk-u" {
		t.Errorf("invoker key = %q, want sk-u", key)
	}
}

func TestBridge_ErrorBecomesReplyText(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("connection refused")}
	rec := &publishRecorder{}
	b := NewBridge(inv, rec.publish, 1, 4)

	b.Dispatch(Job{RoomID: "room1", Prompt: "hi"})
	b.Close()

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("published %d replies, want 1", len(got))
	}
	if !strings.HasPrefix(got[0].reply, "Assistant error:") {
		t.Errorf("reply = %q, want Assistant error prefix", got[0].reply)
	}
	if !strings.Contains(got[0].reply, "connection refused") {
		t.Errorf("reply %q should carry the cause", got[0].reply)
	}
}

func TestBridge_QueueFullDegradesToBusy(t *testing.T) {
	// Invoker blocks until released so the queue stays full.
	inv := blockingInvoker{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	rec := &publishRecorder{}
	b := NewBridge(inv, rec.publish, 1, 1)

	b.Dispatch(Job{RoomID: "room1", Prompt: "a"})
	// Wait until the worker is occupied with the first job.
	<-inv.started
	b.Dispatch(Job{RoomID: "room1", Prompt: "b"}) // sits in the queue
	b.Dispatch(Job{RoomID: "room2", Prompt: "c"}) // queue full, degraded inline

	busy := rec.all()
	if len(busy) != 1 {
		t.Fatalf("published %d replies before release, want only the busy one", len(busy))
	}
	if busy[0].roomID != "room2" || !strings.Contains(busy[0].reply, "busy") {
		t.Errorf("busy fallback = %+v", busy[0])
	}

	close(inv.release)
	b.Close()

	if got := len(rec.all()); got != 3 {
		t.Errorf("published %d replies total, want 3", got)
	}
}

type blockingInvoker struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingInvoker) Complete(_ context.Context, _, _ string) (string, error) {
	b.started <- struct{}{}
	<-b.release
	return "done", nil
}

func TestHTTPInvoker_Complete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello back"}},
			},
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "test-model", "sk-default")
	reply, err := inv.Complete(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "hello back" {
		t.Errorf("reply = %q, want hello back", reply)
	}
	if gotAuth != "Bearer sk-default" {
		t.Errorf("auth header = %q, want the default key", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v, want test-model", gotBody["model"])
	}

	if _, err = inv.Complete(context.Background(), "hello", "sk-user"); err != nil {
		t.Fatalf("Complete() with user key error = %v", err)
	}
	if gotAuth != "Bearer sk-user" {
		t.Errorf("auth header = %q, want the user key", gotAuth)
	}
}

func TestHTTPInvoker_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "test-model", "sk")
	if _, err := inv.Complete(context.Background(), "hi", ""); err == nil {
		t.Error("Complete() should fail on non-200 upstream")
	}
}

func TestHTTPInvoker_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(srv.URL, "test-model", "sk")
	if _, err := inv.Complete(context.Background(), "hi", ""); err == nil {
		t.Error("Complete() should fail when upstream returns no choices")
	}
}
