// Package runtime assembles the client from configuration and runs it.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/camera"
	appconfig "github.com/saker-ai/xiaozhi-client/internal/config"
	"github.com/saker-ai/xiaozhi-client/internal/device"
	"github.com/saker-ai/xiaozhi-client/internal/discovery"
	"github.com/saker-ai/xiaozhi-client/internal/display"
	"github.com/saker-ai/xiaozhi-client/internal/history"
	apphttp "github.com/saker-ai/xiaozhi-client/internal/http"
	"github.com/saker-ai/xiaozhi-client/internal/livestream"
	applogger "github.com/saker-ai/xiaozhi-client/internal/logger"
	"github.com/saker-ai/xiaozhi-client/internal/music"
	"github.com/saker-ai/xiaozhi-client/internal/protocol"
	"github.com/saker-ai/xiaozhi-client/internal/settings"
	"github.com/saker-ai/xiaozhi-client/internal/speaker"
	"github.com/saker-ai/xiaozhi-client/internal/transport"
	"github.com/saker-ai/xiaozhi-client/internal/uplink"
	"github.com/saker-ai/xiaozhi-client/pkg/audio"
)

const (
	watchdogInterval  = 10 * time.Second
	refreshInterval   = 500 * time.Millisecond
	defaultBrightness = 100
)

// statusDisplay is a display that also takes brightness and connection updates.
type statusDisplay interface {
	device.Display
	device.BrightnessActuator
	SetVolume(volume int)
	SetConnection(state string)
	Snapshot() display.Snapshot
}

// Options adjust New for one-shot commands.
type Options struct {
	// Headless forces the logging display and skips the HTTP server.
	Headless bool
}

// App is the assembled client.
type App struct {
	cfg     appconfig.Config
	opts    Options
	logger  *zap.Logger
	machine *device.Machine

	controller *livestream.Controller
	admin      *livestream.Router
	player     *music.Player
	speaker    *speaker.Speaker
	uplink     *uplink.Encoder
	camera     *camera.Streamer
	display    statusDisplay
	tui        *display.TUI
	browser    *discovery.Browser
	history    *history.Store
	server     *http.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New loads configPath (empty means the default lookup) and wires every component.
func New(configPath string, opts Options) (*App, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	useTUI := cfg.Display.TUI && !opts.Headless
	logCfg := cfg.Log
	if useTUI {
		logCfg = applogger.ForTerminal(logCfg)
	}
	logger, err := applogger.New(logCfg)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("server_url", cfg.Server.URL),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.String("opus_backend", audio.OpusBackend()),
	)

	app := &App{cfg: cfg, opts: opts, logger: logger, machine: device.NewMachine()}
	app.machine.SetMode(cfg.Server.ListenMode)
	if err := app.wire(useTUI); err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(useTUI bool) error {
	cfg := a.cfg
	log := a.logger

	store, err := settings.NewStore(cfg.Settings.Dir)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}

	sink, err := a.openSpeaker()
	if err != nil {
		return err
	}

	if useTUI {
		a.tui = display.NewTUI(defaultBrightness, cfg.Speaker.Volume, display.Controls{
			ToggleChat: a.machine.ToggleChatState,
			SetVolume:  a.setVolume,
		})
		a.display = a.tui
	} else {
		a.display = display.NewLogging(defaultBrightness, log)
	}
	a.display.SetVolume(cfg.Speaker.Volume)

	wsOpts := transport.WebsocketOptions{
		DeviceID:    cfg.Server.DeviceID,
		ClientID:    cfg.Server.ClientID,
		AccessToken: cfg.Server.AccessToken,
		AudioParams: transport.AudioParams{
			Format:        cfg.Server.AudioFormat,
			SampleRate:    cfg.Server.SampleRate,
			Channels:      cfg.Server.Channels,
			FrameDuration: cfg.Server.FrameDuration,
		},
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
	}
	a.controller, err = livestream.NewController(livestream.Options{
		Endpoint: transport.Endpoint{
			URL:        cfg.Server.URL,
			Version:    cfg.Server.ProtocolVersion,
			AppVersion: cfg.Device.AppVersion,
			BoardName:  cfg.Device.BoardName,
		},
		Policy:         livestream.ReconnectPolicy{Interval: cfg.Reconnect.Interval, MaxAttempts: cfg.Reconnect.MaxAttempts},
		SessionOptions: []protocol.Option{protocol.WithTimeout(cfg.Server.SessionTimeout)},
		Settings:       store,
		Factory: func(endpoint transport.Endpoint) (transport.Channel, error) {
			return transport.NewWebsocketChannel(endpoint, wsOpts, log), nil
		},
		DeviceStatus: a.machine,
		Display:      a.display,
	}, log)
	if err != nil {
		return err
	}

	adminDeps := livestream.RouterDeps{
		State:      a.machine,
		WakeWord:   a.machine,
		Speech:     a.machine,
		Brightness: a.display,
	}
	if a.speaker != nil {
		adminDeps.Volume = volumeActuator{a}
	}
	if cfg.History.Enabled {
		a.history, err = history.NewStore(cfg.History.Dir, log)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		adminDeps.Transcript = a.history
	}
	a.admin = livestream.NewRouter(a.controller, adminDeps, log)
	a.controller.SetIncomingHandlers(a.admin.HandleJSON, a.playServerAudio)

	a.player, err = music.NewPlayer(music.Config{
		ChunkSize:     cfg.Music.ChunkSize,
		MinBufferSize: cfg.Music.MinBufferSize,
		MaxBufferSize: cfg.Music.MaxBufferSize,
		FrameDuration: cfg.Music.FrameDuration,
		UserAgent:     cfg.Music.UserAgent,
	}, music.Deps{
		State:   a.machine,
		Toggler: a.machine,
		Sink:    sink,
		Display: a.display,
	}, music.NewHTTPLookup(music.LookupConfig{
		APIURL:    cfg.Music.APIURL,
		APIKey:    cfg.Music.APIKey,
		UserAgent: cfg.Music.UserAgent,
	}, nil, log), nil, log)
	if err != nil {
		return err
	}

	a.uplink, err = uplink.New(uplink.Config{
		SampleRate:    cfg.Server.SampleRate,
		FrameDuration: cfg.Server.FrameDuration,
		Options:       audio.EncoderOptions{Bitrate: cfg.Uplink.Bitrate, Complexity: cfg.Uplink.Complexity},
	}, a.controller, log)
	if err != nil {
		return err
	}

	if cfg.Camera.Enabled {
		a.camera = camera.NewStreamer(camera.Config{
			Interval:      cfg.Camera.Interval,
			MaxPhotoBytes: cfg.Camera.MaxPhotoBytes,
			MaxErrors:     cfg.Camera.MaxErrors,
		}, camera.NewDirectorySource(cfg.Camera.SourceDir), a.controller, log)
	}

	if cfg.Server.Discovery.Enabled {
		a.browser = discovery.NewBrowser(discovery.Config{
			Service: cfg.Server.Discovery.Service,
			Domain:  cfg.Server.Discovery.Domain,
			Timeout: cfg.Server.Discovery.Timeout,
		}, log)
	}

	if !a.opts.Headless && cfg.HTTP.Addr != "" {
		extra := map[string]func() any{
			"display": func() any { return a.display.Snapshot() },
		}
		if a.camera != nil {
			extra["camera"] = func() any { return a.camera.Stats() }
		}
		deps := apphttp.Deps{
			Connection: a.controller,
			Player:     a.player,
			Uplink:     a.uplink,
			State:      a.machine,
			Toggler:    a.machine,
			Extra:      extra,
		}
		if a.history != nil {
			deps.History = a.history
		}
		router := apphttp.NewRouter(deps, log)
		a.server = &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	}
	return nil
}

// openSpeaker returns the audio sink. Without a usable device the music
// player still runs against a sink that drops audio.
func (a *App) openSpeaker() (device.AudioSink, error) {
	if !a.cfg.Speaker.Enabled {
		return discardSink{}, nil
	}
	out, err := speaker.OpenDevice(a.cfg.Speaker.SampleRate)
	if err != nil {
		a.logger.Warn("audio device unavailable, audio will be dropped", zap.Error(err))
		return discardSink{}, nil
	}
	spk, err := speaker.New(speaker.Config{SampleRate: a.cfg.Speaker.SampleRate, Volume: a.cfg.Speaker.Volume}, out, a.logger)
	if err != nil {
		_ = out.Close()
		return nil, err
	}
	a.speaker = spk
	return spk, nil
}

func (a *App) setVolume(volume int) error {
	if a.speaker == nil {
		return errors.New("no audio device")
	}
	if err := a.speaker.SetOutputVolume(volume); err != nil {
		return err
	}
	a.display.SetVolume(volume)
	return nil
}

// volumeActuator routes admin volume commands through setVolume so the display follows.
type volumeActuator struct{ app *App }

func (v volumeActuator) SetOutputVolume(volume int) error {
	return v.app.setVolume(volume)
}

func (a *App) playServerAudio(packet transport.AudioStreamPacket) {
	if a.speaker == nil {
		return
	}
	if packet.SampleRate <= 0 {
		packet.SampleRate = a.controller.ServerAudioParams().SampleRate
	}
	if err := a.speaker.PushOpus(context.Background(), packet); err != nil {
		a.logger.Debug("server audio dropped", zap.Error(err))
	}
}

// Player exposes the music player for one-shot commands.
func (a *App) Player() *music.Player {
	return a.player
}

// Run connects and serves until ctx ends or the terminal display quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.resolveEndpoint(ctx)
	if err := a.controller.Connect(ctx); err != nil {
		a.logger.Warn("initial connect failed", zap.Error(err))
	}
	go a.controller.Watchdog(ctx, watchdogInterval)
	go a.refreshDisplay(ctx)

	if a.camera != nil {
		if err := a.camera.Start(ctx); err != nil {
			a.logger.Warn("camera start failed", zap.Error(err))
		}
	}

	errCh := make(chan error, 2)
	if a.server != nil {
		go func() {
			a.logger.Info("starting http server", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	if a.tui != nil {
		go func() {
			errCh <- a.tui.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// PlayOnce resolves query and blocks until the song ends or ctx is done.
func (a *App) PlayOnce(ctx context.Context, query string) error {
	ok, err := a.player.Download(ctx, query)
	if !ok {
		if err == nil {
			err = music.ErrLookupFailed
		}
		return err
	}
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for a.player.IsPlaying() {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (a *App) resolveEndpoint(ctx context.Context) {
	if a.cfg.Server.URL != "" || a.browser == nil {
		return
	}
	url, err := a.browser.Discover(ctx)
	if err != nil {
		a.logger.Warn("endpoint discovery failed", zap.Error(err))
		return
	}
	a.controller.SetURL(url)
}

func (a *App) refreshDisplay(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if state := a.controller.State().String(); state != last {
			a.display.SetConnection(state)
			last = state
		}
	}
}

// Shutdown stops every component. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		if a.camera != nil {
			a.camera.Stop()
		}
		a.player.Stop()
		a.controller.Disconnect()
		a.uplink.Close()

		var errs []error
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		if a.speaker != nil {
			if err := a.speaker.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.logger.Info("shutdown complete")
		_ = a.logger.Sync()
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}

// discardSink accepts audio when no output device is available.
type discardSink struct{}

func (discardSink) PushPCM(ctx context.Context, _ transport.AudioStreamPacket) error {
	return ctx.Err()
}
