// Package display provides the status surfaces: a log-backed display for
// headless runs and a terminal UI.
package display

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/saker-ai/xiaozhi-client/internal/logger"
)

// ErrBrightnessRange is returned for brightness outside [0,100].
var ErrBrightnessRange = errors.New("display: brightness out of range")

// Snapshot is what a display currently shows.
type Snapshot struct {
	Status     string `json:"status"`
	MusicInfo  string `json:"music_info"`
	Brightness int    `json:"brightness"`
	Volume     int    `json:"volume"`
	Connection string `json:"connection"`
}

// state is the shared, lock-guarded content of both displays.
type state struct {
	mu   sync.Mutex
	snap Snapshot
}

func (s *state) update(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	return s.snap
}

func (s *state) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func checkBrightness(brightness int) error {
	if brightness < 0 || brightness > 100 {
		return fmt.Errorf("%w: %d", ErrBrightnessRange, brightness)
	}
	return nil
}

// Logging writes every change to the log.
type Logging struct {
	state
	logger *zap.Logger
}

func NewLogging(brightness int, log *zap.Logger) *Logging {
	d := &Logging{logger: logger.OrNop(log).Named("display")}
	d.snap.Brightness = brightness
	return d
}

func (d *Logging) SetStatus(status string) {
	d.update(func(s *Snapshot) { s.Status = status })
	d.logger.Info("status", zap.String("status", status))
}

func (d *Logging) SetMusicInfo(info string) {
	d.update(func(s *Snapshot) { s.MusicInfo = info })
	d.logger.Info("music info", zap.String("info", info))
}

func (d *Logging) SetBrightness(brightness int) error {
	if err := checkBrightness(brightness); err != nil {
		return err
	}
	d.update(func(s *Snapshot) { s.Brightness = brightness })
	d.logger.Info("brightness", zap.Int("brightness", brightness))
	return nil
}

func (d *Logging) SetVolume(volume int) {
	d.update(func(s *Snapshot) { s.Volume = volume })
}

func (d *Logging) SetConnection(state string) {
	d.update(func(s *Snapshot) { s.Connection = state })
	d.logger.Debug("connection", zap.String("state", state))
}
