package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dustinober1/studysync/internal/card"
)

func TestClientGetAndErrorMapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := &card.Card{ID: "c1", UserID: "u1", ContentID: "content-1", CreatedAt: now, UpdatedAt: now}

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/v1/flashcards/c1":
			_ = json.NewEncoder(w).Encode(doc)
		case "/v1/flashcards/missing":
			http.NotFound(w, r)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	ctx := context.Background()

	got, err := c.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ContentID != "content-1" {
		t.Errorf("decoded card wrong: %+v", got)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth header = %q, want bearer token", gotAuth)
	}

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("404 mapped to %v, want ErrNotFound", err)
	}
	if _, err := c.Get(ctx, "broken"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("500 mapped to %v, want ErrUnavailable", err)
	}
}

func TestClientPutAndDelete(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody card.Card
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.EscapedPath()
		if r.Method == http.MethodPut {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		if r.Method == http.MethodDelete {
			// Deleting an absent card is fine from the caller's view.
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	ctx := context.Background()

	now := time.Now().UTC()
	doc := &card.Card{ID: "c 1", UserID: "u1", ContentID: "content-1", CreatedAt: now, UpdatedAt: now}
	if err := c.Put(ctx, doc); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/v1/flashcards/c%201" {
		t.Errorf("Put hit %s %s", gotMethod, gotPath)
	}
	if gotBody.ContentID != "content-1" {
		t.Errorf("Put body wrong: %+v", gotBody)
	}

	if err := c.Delete(ctx, "gone"); err != nil {
		t.Errorf("Delete of absent card errored: %v", err)
	}
}

func TestClientUnreachableHost(t *testing.T) {
	c, err := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.Get(context.Background(), "c1"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("transport failure mapped to %v, want ErrUnavailable", err)
	}
}
