package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok-123", zap.NewNop())
}

func TestRequestCarriesAuth(t *testing.T) {
	var gotAuth, gotPath string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode([]any{})
	})

	if _, err := c.Chats(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", gotAuth)
	}
	if gotPath != "/chats" {
		t.Errorf("path = %q, want /chats", gotPath)
	}
}

func TestChatPermission(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appointments/appt-1/chat-permission" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"allowed":true,"userId":"u1","workerId":"w1","otherUser":{"_id":"w1","name":"Worker"}}`))
	})

	grant, err := c.ChatPermission(context.Background(), "appt-1")
	if err != nil {
		t.Fatal(err)
	}
	if !grant.Allowed || grant.UserID != "u1" || grant.WorkerID != "w1" {
		t.Errorf("grant = %+v", grant)
	}
	if grant.Peer.ID != "w1" || grant.Peer.Name != "Worker" {
		t.Errorf("peer = %+v", grant.Peer)
	}
}

func TestMessages(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/a_b" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"_id":"m1","chatId":"a_b","sender":"b","text":"hi","delivered":true,"seen":false}]`))
	})

	msgs, err := c.Messages(context.Background(), "a_b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || !msgs[0].Delivered {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestUnreadCounts(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/unread-counts" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"a_b":3,"a_c":1}`))
	})

	counts, err := c.UnreadCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts["a_b"] != 3 || counts["a_c"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestClearAndDeleteVerbs(t *testing.T) {
	type call struct{ method, path string }
	var calls []call
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path})
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.ClearChat(context.Background(), "a_b"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteChat(context.Background(), "a_b"); err != nil {
		t.Fatal(err)
	}

	want := []call{
		{http.MethodPost, "/chats/clear/a_b"},
		{http.MethodDelete, "/chats/a_b"},
	}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := c.Messages(context.Background(), "a_b")
	if err == nil {
		t.Fatal("no error for a 403 response")
	}
}

func TestTrailingSlashBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", "tok", zap.NewNop())
	if _, err := c.Chats(context.Background()); err != nil {
		t.Fatalf("trailing slash base broke the path: %v", err)
	}
}
