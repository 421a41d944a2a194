// Package music resolves songs through an HTTP lookup and streams them: a
// download task fills a bounded buffer while a playback task decodes frames,
// downmixes them to mono and paces PCM packets into the audio sink.
package music

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/device"
	"github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/transport"
	"github.com/saker-ai/xiaozhi-client/pkg/audio"
)

const (
	windowSize      = 8192
	refillThreshold = 4096
	progressEvery   = 64 * 1024

	listeningRetry = 300 * time.Millisecond
	pausedRetry    = 50 * time.Millisecond
	defaultPacing  = 20 * time.Millisecond
	maxPacing      = 100 * time.Millisecond
)

// Config configures the Player.
type Config struct {
	ChunkSize           int
	MinBufferSize       int
	MaxBufferSize       int
	FrameDuration       int
	UserAgent           string
	DownloadJoinTimeout time.Duration
	PlaybackJoinTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4096
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 256 * 1024
	}
	if c.MinBufferSize <= 0 || c.MinBufferSize > c.MaxBufferSize {
		c.MinBufferSize = min(32*1024, c.MaxBufferSize)
	}
	if c.ChunkSize > c.MaxBufferSize {
		c.ChunkSize = c.MaxBufferSize
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 60
	}
	if c.DownloadJoinTimeout <= 0 {
		c.DownloadJoinTimeout = 5 * time.Second
	}
	if c.PlaybackJoinTimeout <= 0 {
		c.PlaybackJoinTimeout = 3 * time.Second
	}
	return c
}

// Deps are the device capabilities the player needs. Sink is required.
type Deps struct {
	State   device.StateSource
	Toggler device.ChatToggler
	Sink    device.AudioSink
	Display device.Display
}

// Status is a JSON-serialisable snapshot of the player.
type Status struct {
	Playing       bool   `json:"playing"`
	Downloading   bool   `json:"downloading"`
	BufferedBytes int    `json:"buffered_bytes"`
	Title         string `json:"title,omitempty"`
	URL           string `json:"url,omitempty"`
}

// stream is one StartStreaming run. Tasks only touch their own stream, so a
// task abandoned by Stop cannot disturb the next run.
type stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	buf    *BoundedBuffer
	url    string
	title  string

	downloading  atomic.Bool
	playing      atomic.Bool
	downloadDone chan struct{}
	playbackDone chan struct{}
}

// Player streams one song at a time.
type Player struct {
	cfg        Config
	deps       Deps
	lookup     SongLookup
	client     *http.Client
	newDecoder func() FrameDecoder
	sleep      func(ctx context.Context, d time.Duration)
	logger     *zap.Logger

	control sync.Mutex
	mu      sync.Mutex
	current *stream
	// infoMu orders now-playing updates against the clear on stop.
	infoMu sync.Mutex
}

// NewPlayer executes the newPlayer function.
func NewPlayer(cfg Config, deps Deps, lookup SongLookup, client *http.Client, log *zap.Logger) (*Player, error) {
	if deps.Sink == nil {
		return nil, errors.New("music: audio sink is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Player{
		cfg:        cfg.withDefaults(),
		deps:       deps,
		lookup:     lookup,
		client:     client,
		newDecoder: func() FrameDecoder { return NewMP3Decoder() },
		sleep:      sleepContext,
		logger:     logger.OrNop(log).Named("music"),
	}, nil
}

// Download resolves query and starts streaming it. It reports false without
// starting anything when the lookup fails.
func (p *Player) Download(ctx context.Context, query string) (bool, error) {
	if p.lookup == nil {
		return false, fmt.Errorf("%w: no lookup configured", ErrLookupFailed)
	}
	info, err := p.lookup.Lookup(ctx, query)
	if err != nil {
		p.logger.Warn("song lookup failed", zap.String("query", query), zap.Error(err))
		return false, err
	}
	if err := p.StartStreaming(info.MusicURL, info.Title()); err != nil {
		return false, err
	}
	return true, nil
}

// StartStreaming stops any current run and starts download and playback of url.
func (p *Player) StartStreaming(url string, title string) error {
	if url == "" {
		return errors.New("music: empty stream url")
	}
	p.control.Lock()
	defer p.control.Unlock()

	p.mu.Lock()
	prev := p.current
	p.current = nil
	p.mu.Unlock()
	if prev != nil {
		p.stopStream(prev)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		ctx:          ctx,
		cancel:       cancel,
		buf:          NewBoundedBuffer(p.cfg.MaxBufferSize),
		url:          url,
		title:        title,
		downloadDone: make(chan struct{}),
		playbackDone: make(chan struct{}),
	}
	s.downloading.Store(true)
	s.playing.Store(true)

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	p.logger.Info("streaming started", zap.String("url", url), zap.String("title", title))
	go p.download(s)
	go p.playback(s)
	return nil
}

// Stop ends the current run. It waits up to the join timeouts for each task
// and then returns regardless.
func (p *Player) Stop() {
	p.control.Lock()
	defer p.control.Unlock()

	p.mu.Lock()
	s := p.current
	p.current = nil
	p.mu.Unlock()
	if s != nil {
		p.stopStream(s)
	}
}

func (p *Player) stopStream(s *stream) {
	s.downloading.Store(false)
	s.playing.Store(false)
	s.cancel()
	s.buf.Close()
	p.infoMu.Lock()
	p.setMusicInfo("")
	p.infoMu.Unlock()

	if !waitDone(s.downloadDone, p.cfg.DownloadJoinTimeout) {
		p.logger.Warn("download task did not stop in time, abandoning", zap.Duration("timeout", p.cfg.DownloadJoinTimeout))
	}
	if !waitDone(s.playbackDone, p.cfg.PlaybackJoinTimeout) {
		p.logger.Warn("playback task did not stop in time, abandoning", zap.Duration("timeout", p.cfg.PlaybackJoinTimeout))
	}
	s.buf.Close()
	p.logger.Info("streaming stopped", zap.String("url", s.url))
}

// IsPlaying executes the isPlaying method.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil && p.current.playing.Load()
}

// Status executes the status method.
func (p *Player) Status() Status {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return Status{}
	}
	return Status{
		Playing:       s.playing.Load(),
		Downloading:   s.downloading.Load(),
		BufferedBytes: s.buf.Size(),
		Title:         s.title,
		URL:           s.url,
	}
}

func (p *Player) download(s *stream) {
	defer close(s.downloadDone)
	defer s.downloading.Store(false)
	defer s.buf.Finish()

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		p.logger.Error("build stream request", zap.Error(err))
		return
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Range", "bytes=0-")

	resp, err := p.client.Do(req)
	if err != nil {
		if s.ctx.Err() == nil {
			p.logger.Error("open stream", zap.String("url", s.url), zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		p.logger.Error("stream http status", zap.String("url", s.url), zap.Int("status", resp.StatusCode))
		return
	}

	total := 0
	nextProgress := progressEvery
	for s.downloading.Load() {
		data := make([]byte, p.cfg.ChunkSize)
		n, readErr := resp.Body.Read(data)
		if n > 0 {
			if total == 0 {
				p.logger.Info("stream container detected", zap.String("container", sniffContainer(data[:n])))
			}
			if err := s.buf.Push(s.ctx, AudioChunk{Data: data[:n]}); err != nil {
				return
			}
			total += n
			if total >= nextProgress {
				p.logger.Info("download progress", zap.Int("bytes", total), zap.Int("buffered", s.buf.Size()))
				nextProgress += progressEvery
			}
		}
		if errors.Is(readErr, io.EOF) {
			p.logger.Info("download complete", zap.Int("bytes", total))
			return
		}
		if readErr != nil {
			if s.ctx.Err() == nil {
				p.logger.Error("stream read", zap.Int("bytes", total), zap.Error(readErr))
			}
			return
		}
	}
}

func (p *Player) playback(s *stream) {
	defer close(s.playbackDone)
	defer s.playing.Store(false)
	defer p.clearIfCurrent(s)

	if err := s.buf.WaitReady(s.ctx, p.cfg.MinBufferSize); err != nil {
		if errors.Is(err, io.EOF) {
			p.logger.Warn("stream ended before any data arrived", zap.String("url", s.url))
		}
		return
	}

	dec := p.newDecoder()
	window := make([]byte, 0, windowSize)
	var pending []byte
	eof := false
	atStart := true
	skip := 0
	shown := false
	played := 0
	failures := 0

	for s.playing.Load() {
		if !p.gate(s) {
			continue
		}
		if !shown {
			shown = p.showNowPlaying(s)
		}

		if len(window) < refillThreshold {
			if len(pending) == 0 && !eof {
				chunk, err := s.buf.Pop(s.ctx)
				switch {
				case errors.Is(err, io.EOF):
					eof = true
				case err != nil:
					return
				default:
					pending = chunk.Data
				}
			}
			n := min(len(pending), windowSize-len(window))
			window = append(window, pending[:n]...)
			pending = pending[n:]
		}
		drained := eof && len(pending) == 0
		if len(window) == 0 {
			if drained {
				p.logger.Info("playback finished", zap.Int("pcm_bytes", played), zap.Int("decode_failures", failures))
				return
			}
			continue
		}

		if skip > 0 {
			n := min(skip, len(window))
			window = consume(window, n)
			skip -= n
			continue
		}
		if atStart {
			size, complete := ID3v2Size(window)
			if !complete && !drained {
				continue
			}
			atStart = false
			if size > 0 {
				p.logger.Debug("skipping id3v2 tag", zap.Int("bytes", size))
				skip = size
				continue
			}
		}

		offset := FindSyncWord(window)
		if offset < 0 {
			keep := 0
			if !drained {
				keep = min(len(window), FrameHeaderSize-1)
			}
			p.logger.Debug("no frame sync, discarding window", zap.Int("bytes", len(window)-keep))
			window = consume(window, len(window)-keep)
			continue
		}
		window = consume(window, offset)

		pcm, info, used, err := dec.Decode(window)
		if errors.Is(err, ErrNeedMoreData) {
			if drained {
				window = window[:0]
			}
			continue
		}
		if err != nil {
			failures++
			window = consume(window, 1)
			continue
		}
		window = consume(window, used)

		if info.Channels > 2 {
			p.logger.Warn("unsupported channel count, treating as mono", zap.Int("channels", info.Channels))
		}
		mono := Downmix(pcm, info.Channels)
		packet := transport.AudioStreamPacket{
			SampleRate:    info.SampleRate,
			FrameDuration: p.cfg.FrameDuration,
			Payload:       audio.Int16SliceToBytesInto(nil, mono),
		}
		if err := p.deps.Sink.PushPCM(s.ctx, packet); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			p.logger.Warn("audio sink rejected packet", zap.Error(err))
		}
		played += len(packet.Payload)
		p.sleep(s.ctx, pacing(info))
	}
}

// gate reports whether the device state allows decoding now. Otherwise it
// waits a little and the caller retries.
func (p *Player) gate(s *stream) bool {
	if p.deps.State == nil {
		return true
	}
	switch state := p.deps.State.DeviceState(); state {
	case device.StateIdle:
		return true
	case device.StateListening:
		p.logger.Info("device listening, switching to idle for music")
		if p.deps.Toggler != nil {
			p.deps.Toggler.ToggleChatState()
		}
		p.sleep(s.ctx, listeningRetry)
	default:
		p.sleep(s.ctx, pausedRetry)
	}
	return false
}

func (p *Player) setMusicInfo(info string) {
	if p.deps.Display != nil {
		p.deps.Display.SetMusicInfo(info)
	}
}

// showNowPlaying publishes the title unless s was stopped meanwhile.
func (p *Player) showNowPlaying(s *stream) bool {
	p.infoMu.Lock()
	defer p.infoMu.Unlock()
	if !s.playing.Load() {
		return false
	}
	p.setMusicInfo(nowPlaying(s.title))
	return true
}

func (p *Player) clearIfCurrent(s *stream) {
	p.infoMu.Lock()
	defer p.infoMu.Unlock()
	p.mu.Lock()
	current := p.current == s
	p.mu.Unlock()
	if current {
		p.setMusicInfo("")
	}
}

// pacing is half the frame's play time, or the default outside (0, 100ms].
func pacing(info FrameInfo) time.Duration {
	if info.SampleRate <= 0 {
		return defaultPacing
	}
	perChannel := info.Samples / max(info.Channels, 1)
	d := time.Duration(perChannel*1000/info.SampleRate/2) * time.Millisecond
	if d <= 0 || d > maxPacing {
		return defaultPacing
	}
	return d
}

func nowPlaying(title string) string {
	if title == "" {
		return "Song playing..."
	}
	return fmt.Sprintf("%s playing...", title)
}

// consume drops the first n bytes, moving the rest to the front.
func consume(window []byte, n int) []byte {
	if n <= 0 {
		return window
	}
	if n >= len(window) {
		return window[:0]
	}
	rest := copy(window, window[n:])
	return window[:rest]
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
