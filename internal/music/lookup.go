package music

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
)

// ErrLookupFailed is returned when the music API does not resolve a playable url.
var ErrLookupFailed = errors.New("music lookup failed")

// SongInfo is the resolved metadata of a song.
type SongInfo struct {
	Name     string `json:"name"`
	SongName string `json:"songname"`
	Album    string `json:"album"`
	MusicURL string `json:"musicurl"`
	Picture  string `json:"picture"`
	Lyrics   string `json:"lyrics,omitempty"`
}

// Title returns the best display title.
func (s SongInfo) Title() string {
	if s.SongName != "" {
		return s.SongName
	}
	return s.Name
}

// SongLookup resolves a free-form query to a song.
type SongLookup interface {
	Lookup(ctx context.Context, query string) (SongInfo, error)
}

type lookupResponse struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data struct {
		Name     string          `json:"name"`
		SongName string          `json:"songname"`
		Album    string          `json:"album"`
		MusicURL string          `json:"musicurl"`
		Picture  string          `json:"picture"`
		LrcText  json.RawMessage `json:"lrctxt"`
	} `json:"data"`
}

// LookupConfig configures the HTTP music API.
type LookupConfig struct {
	APIURL    string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
}

// HTTPLookup queries the music API over HTTP. The response is read fully
// before it is decoded.
type HTTPLookup struct {
	cfg    LookupConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPLookup executes the newHTTPLookup function.
func NewHTTPLookup(cfg LookupConfig, client *http.Client, log *zap.Logger) *HTTPLookup {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPLookup{cfg: cfg, client: client, logger: logger.OrNop(log).Named("music_lookup")}
}

// Lookup executes the lookup method.
func (l *HTTPLookup) Lookup(ctx context.Context, query string) (SongInfo, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SongInfo{}, fmt.Errorf("%w: empty query", ErrLookupFailed)
	}
	endpoint, err := url.Parse(l.cfg.APIURL)
	if err != nil || endpoint.Scheme == "" {
		return SongInfo{}, fmt.Errorf("%w: invalid api url %q", ErrLookupFailed, l.cfg.APIURL)
	}
	params := endpoint.Query()
	params.Set("key", l.cfg.APIKey)
	params.Set("msg", query)
	params.Set("n", "1")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return SongInfo{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if l.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", l.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return SongInfo{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SongInfo{}, fmt.Errorf("%w: read body: %v", ErrLookupFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return SongInfo{}, fmt.Errorf("%w: http status %d", ErrLookupFailed, resp.StatusCode)
	}

	var payload lookupResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return SongInfo{}, fmt.Errorf("%w: decode response: %v", ErrLookupFailed, err)
	}
	code := rawInt(payload.Code)
	if code != http.StatusOK {
		return SongInfo{}, fmt.Errorf("%w: api code %d %s", ErrLookupFailed, code, payload.Msg)
	}
	if payload.Data.MusicURL == "" {
		return SongInfo{}, fmt.Errorf("%w: empty musicurl", ErrLookupFailed)
	}
	info := SongInfo{
		Name:     payload.Data.Name,
		SongName: payload.Data.SongName,
		Album:    payload.Data.Album,
		MusicURL: payload.Data.MusicURL,
		Picture:  payload.Data.Picture,
		Lyrics:   lyricsText(payload.Data.LrcText),
	}
	l.logger.Info("song resolved",
		zap.String("query", query),
		zap.String("title", info.Title()),
		zap.String("album", info.Album),
		zap.String("url", info.MusicURL),
	)
	return info, nil
}

// rawInt reads a number or numeric string, returning 0 otherwise.
func rawInt(raw json.RawMessage) int {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}

// lyricsText accepts lrctxt as a string or as {"data": "..."}.
func lyricsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var wrapped struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Data
	}
	return ""
}
