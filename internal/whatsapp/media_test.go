package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMediaFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.png":
			w.Header().Set("Content-Type", "image/png; charset=binary")
			w.Write([]byte("\x89PNG\r\n\x1a\nrest"))
		case "/blob":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte("\x89PNG\r\n\x1a\nrest"))
		case "/empty":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewMediaFetcher(srv.Client())
	ctx := context.Background()

	m, err := f.Fetch(ctx, srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if m.Mimetype != "image/png" || len(m.Data) == 0 {
		t.Fatalf("unexpected media: %s %d bytes", m.Mimetype, len(m.Data))
	}

	m, err = f.Fetch(ctx, srv.URL+"/blob")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if m.Mimetype != "image/png" {
		t.Fatalf("expected sniffed mimetype, got %q", m.Mimetype)
	}

	if _, err := f.Fetch(ctx, srv.URL+"/missing"); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := f.Fetch(ctx, srv.URL+"/empty"); err == nil {
		t.Fatal("expected error for empty body")
	}
}
