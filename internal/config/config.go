package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	appdefaults "github.com/saker-ai/xiaozhi-client/config"
	"github.com/saker-ai/xiaozhi-client/internal/logger"
)

const rootDirEnv = "XZ_ROOT_DIR"

// DiscoveryConfig represents a discoveryConfig.
type DiscoveryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Service string        `mapstructure:"service"`
	Domain  string        `mapstructure:"domain"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig describes the remote endpoint and the session audio format.
type ServerConfig struct {
	URL              string          `mapstructure:"url"`
	ProtocolVersion  int             `mapstructure:"protocol_version"`
	DeviceID         string          `mapstructure:"device_id"`
	ClientID         string          `mapstructure:"client_id"`
	AccessToken      string          `mapstructure:"access_token"`
	AudioFormat      string          `mapstructure:"audio_format"`
	SampleRate       int             `mapstructure:"sample_rate"`
	Channels         int             `mapstructure:"channels"`
	FrameDuration    int             `mapstructure:"frame_duration"`
	ListenMode       string          `mapstructure:"listen_mode"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	SessionTimeout   time.Duration   `mapstructure:"session_timeout"`
	Discovery        DiscoveryConfig `mapstructure:"discovery"`
}

// ReconnectConfig represents a reconnectConfig.
type ReconnectConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// DeviceConfig represents a deviceConfig.
type DeviceConfig struct {
	BoardName  string `mapstructure:"board_name"`
	AppVersion string `mapstructure:"app_version"`
}

// SettingsConfig represents a settingsConfig.
type SettingsConfig struct {
	Dir string `mapstructure:"dir"`
}

// MusicConfig configures song lookup and the streaming player.
type MusicConfig struct {
	APIURL        string `mapstructure:"api_url"`
	APIKey        string `mapstructure:"api_key"`
	UserAgent     string `mapstructure:"user_agent"`
	ChunkSize     int    `mapstructure:"chunk_size"`
	MinBufferSize int    `mapstructure:"min_buffer_size"`
	MaxBufferSize int    `mapstructure:"max_buffer_size"`
	FrameDuration int    `mapstructure:"frame_duration"`
}

// CameraConfig represents a cameraConfig.
type CameraConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SourceDir     string        `mapstructure:"source_dir"`
	Interval      time.Duration `mapstructure:"interval"`
	MaxPhotoBytes int           `mapstructure:"max_photo_bytes"`
	MaxErrors     int           `mapstructure:"max_errors"`
}

// SpeakerConfig represents a speakerConfig.
type SpeakerConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	SampleRate int  `mapstructure:"sample_rate"`
	Volume     int  `mapstructure:"volume"`
}

// UplinkConfig tunes the opus encoder used for outbound voice.
type UplinkConfig struct {
	Bitrate    int `mapstructure:"bitrate"`
	Complexity int `mapstructure:"complexity"`
}

// HistoryConfig controls the on-disk chat transcript history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// DisplayConfig represents a displayConfig.
type DisplayConfig struct {
	TUI bool `mapstructure:"tui"`
}

// HTTPConfig represents a httpConfig.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config represents a config.
type Config struct {
	RootDir   string          `mapstructure:"-"`
	Server    ServerConfig    `mapstructure:"server"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Device    DeviceConfig    `mapstructure:"device"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Music     MusicConfig     `mapstructure:"music"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Speaker   SpeakerConfig   `mapstructure:"speaker"`
	Uplink    UplinkConfig    `mapstructure:"uplink"`
	History   HistoryConfig   `mapstructure:"history"`
	Display   DisplayConfig   `mapstructure:"display"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       logger.Config   `mapstructure:"log"`
}

// Load reads the embedded defaults, then conf.yaml from the root dir, then XZ_* env overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.AddConfigPath(rootDir)

	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	return finish(v, rootDir)
}

// LoadConfig executes the loadConfig function.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv(rootDirEnv))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, err
	}

	return finish(v, rootDir)
}

func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}

	v.SetDefault("server.protocol_version", 1)
	v.SetDefault("server.audio_format", "opus")
	v.SetDefault("server.sample_rate", 16000)
	v.SetDefault("server.channels", 1)
	v.SetDefault("server.frame_duration", 60)
	v.SetDefault("server.session_timeout", 600*time.Second)
	v.SetDefault("reconnect.interval", 5*time.Second)
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("music.chunk_size", 4096)
	v.SetDefault("music.min_buffer_size", 32*1024)
	v.SetDefault("music.max_buffer_size", 256*1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.name", "xiaozhi-client.log")

	v.SetEnvPrefix("xz")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func finish(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveIdentity(&cfg)
	derivePaths(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func deriveIdentity(cfg *Config) {
	if strings.TrimSpace(cfg.Server.DeviceID) == "" {
		cfg.Server.DeviceID = uuid.NewString()
	}
	if strings.TrimSpace(cfg.Server.ClientID) == "" {
		cfg.Server.ClientID = uuid.NewString()
	}
}

func validate(cfg Config) error {
	music := cfg.Music
	if music.MinBufferSize <= 0 || music.MaxBufferSize <= 0 {
		return fmt.Errorf("music buffer sizes must be positive (min=%d max=%d)", music.MinBufferSize, music.MaxBufferSize)
	}
	if music.MinBufferSize > music.MaxBufferSize {
		return fmt.Errorf("music.min_buffer_size %d exceeds music.max_buffer_size %d", music.MinBufferSize, music.MaxBufferSize)
	}
	if music.ChunkSize <= 0 || music.ChunkSize > music.MaxBufferSize {
		return fmt.Errorf("music.chunk_size %d out of range", music.ChunkSize)
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if cfg.Reconnect.Interval <= 0 {
		return fmt.Errorf("reconnect.interval must be positive")
	}
	return nil
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv(rootDirEnv)); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.Settings.Dir = resolvePath(cfg.RootDir, cfg.Settings.Dir, filepath.Join("data", "settings"))
	cfg.Camera.SourceDir = resolvePath(cfg.RootDir, cfg.Camera.SourceDir, filepath.Join("data", "camera"))
	cfg.History.Dir = resolvePath(cfg.RootDir, cfg.History.Dir, filepath.Join("data", "history"))
	cfg.Log.File.Path = resolvePath(cfg.RootDir, cfg.Log.File.Path, filepath.Join("data", "logs"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
