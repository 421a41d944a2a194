package music

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

type seenRequest struct {
	mu     sync.Mutex
	url    *url.URL
	header http.Header
}

func (s *seenRequest) get() (*url.URL, http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.header
}

func newLookupServer(t *testing.T, body string, status int) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.url = r.URL
		seen.header = r.Header.Clone()
		seen.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestLookupResolvesSong(t *testing.T) {
	srv, seen := newLookupServer(t, `{"code":200,"msg":"ok","data":{"name":"Artist - Song","songname":"Song","album":"A","musicurl":"http://x/a.mp3","picture":"http://x/a.jpg","lrctxt":{"data":"[00:01]la"}}}`, http.StatusOK)
	l := NewHTTPLookup(LookupConfig{APIURL: srv.URL + "/api/music/wy", APIKey: "k1", UserAgent: "ESP32-Music-Player/1.0"}, nil, nil)

	info, err := l.Lookup(context.Background(), "晴天 周杰伦")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if info.MusicURL != "http://x/a.mp3" || info.Title() != "Song" || info.Lyrics != "[00:01]la" {
		t.Fatalf("info=%+v", info)
	}
	u, header := seen.get()
	q := u.Query()
	if q.Get("key") != "k1" || q.Get("msg") != "晴天 周杰伦" || q.Get("n") != "1" {
		t.Fatalf("query=%v", q)
	}
	if u.Path != "/api/music/wy" {
		t.Fatalf("path=%q", u.Path)
	}
	if got := header.Get("User-Agent"); got != "ESP32-Music-Player/1.0" {
		t.Fatalf("user agent=%q", got)
	}
}

func TestLookupFailures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "api 404", body: `{"code":404}`, status: http.StatusOK},
		{name: "empty musicurl", body: `{"code":200,"data":{"name":"x","musicurl":""}}`, status: http.StatusOK},
		{name: "not json", body: `<html>`, status: http.StatusOK},
		{name: "http error", body: `{"code":200,"data":{"musicurl":"http://x/a.mp3"}}`, status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newLookupServer(t, tt.body, tt.status)
			l := NewHTTPLookup(LookupConfig{APIURL: srv.URL}, nil, nil)
			if _, err := l.Lookup(context.Background(), "song"); !errors.Is(err, ErrLookupFailed) {
				t.Fatalf("Lookup error=%v, want ErrLookupFailed", err)
			}
		})
	}
}

func TestLookupAcceptsStringCodeAndLyrics(t *testing.T) {
	srv, _ := newLookupServer(t, `{"code":"200","data":{"songname":"S","musicurl":"http://x/b.mp3","lrctxt":"plain"}}`, http.StatusOK)
	l := NewHTTPLookup(LookupConfig{APIURL: srv.URL}, nil, nil)
	info, err := l.Lookup(context.Background(), "s")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if info.Lyrics != "plain" {
		t.Fatalf("lyrics=%q, want plain", info.Lyrics)
	}
}

func TestLookupRejectsEmptyQuery(t *testing.T) {
	l := NewHTTPLookup(LookupConfig{APIURL: "http://127.0.0.1:1"}, nil, nil)
	if _, err := l.Lookup(context.Background(), "  "); !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("Lookup error=%v, want ErrLookupFailed", err)
	}
}
