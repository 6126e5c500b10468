// Package config loads settings from an optional .env file, an optional YAML
// file named by TURNCAST_CONFIG, and TURNCAST_* environment variables, in
// that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Tournament TournamentConfig `yaml:"tournament"`
	Game       GameConfig       `yaml:"game"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Replay     ReplayConfig     `yaml:"replay"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// TournamentConfig enables matchmaking when Host is set.
type TournamentConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PlayerName string `yaml:"player_name"`
	Password   string `yaml:"password"`
}

// GameConfig connects straight to a game server when Server is set.
type GameConfig struct {
	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	Session    string `yaml:"session"`
	PlayerName string `yaml:"player_name"`
	Spectating bool   `yaml:"spectating"`
}

type PlaybackConfig struct {
	FrameIntervalMS int     `yaml:"frame_interval_ms"`
	Retention       int     `yaml:"retention"`
	Follow          bool    `yaml:"follow"`
	Speed           float64 `yaml:"speed"`
	Autoplay        bool    `yaml:"autoplay"`
}

type ReplayConfig struct {
	File      string `yaml:"file"`
	RecordDir string `yaml:"record_dir"`
}

type ArchiveConfig struct {
	Driver string `yaml:"driver"` // "", sqlite or postgres
	DSN    string `yaml:"dsn"`
}

func (p PlaybackConfig) FrameInterval() time.Duration {
	return time.Duration(p.FrameIntervalMS) * time.Millisecond
}

func Defaults() Config {
	return Config{
		HTTP:       HTTPConfig{Addr: ":8080"},
		Log:        LogConfig{Level: "info", Format: "json"},
		Tournament: TournamentConfig{Port: 5454},
		Game:       GameConfig{Port: 3000, Session: "*", Spectating: true},
		Playback:   PlaybackConfig{FrameIntervalMS: 16, Follow: true, Speed: 1, Autoplay: true},
	}
}

// Load reads the process configuration.
func Load() (Config, error) {
	// a missing .env is normal
	_ = godotenv.Load()
	return load(os.Getenv("TURNCAST_CONFIG"), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TURNCAST_HTTP_ADDR":           &c.HTTP.Addr,
		"TURNCAST_LOG_LEVEL":           &c.Log.Level,
		"TURNCAST_LOG_FORMAT":          &c.Log.Format,
		"TURNCAST_TOURNAMENT_HOST":     &c.Tournament.Host,
		"TURNCAST_TOURNAMENT_PLAYER":   &c.Tournament.PlayerName,
		"TURNCAST_TOURNAMENT_PASSWORD": &c.Tournament.Password,
		"TURNCAST_GAME_SERVER":         &c.Game.Server,
		"TURNCAST_GAME_NAME":           &c.Game.Name,
		"TURNCAST_GAME_SESSION":        &c.Game.Session,
		"TURNCAST_GAME_PLAYER":         &c.Game.PlayerName,
		"TURNCAST_REPLAY_FILE":         &c.Replay.File,
		"TURNCAST_RECORD_DIR":          &c.Replay.RecordDir,
		"TURNCAST_ARCHIVE_DRIVER":      &c.Archive.Driver,
		"TURNCAST_ARCHIVE_DSN":         &c.Archive.DSN,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TURNCAST_TOURNAMENT_PORT":   &c.Tournament.Port,
		"TURNCAST_GAME_PORT":         &c.Game.Port,
		"TURNCAST_FRAME_INTERVAL_MS": &c.Playback.FrameIntervalMS,
		"TURNCAST_RETENTION":         &c.Playback.Retention,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"TURNCAST_SPECTATING": &c.Game.Spectating,
		"TURNCAST_FOLLOW":     &c.Playback.Follow,
		"TURNCAST_AUTOPLAY":   &c.Playback.Autoplay,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("TURNCAST_PLAYBACK_SPEED"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TURNCAST_PLAYBACK_SPEED: %w", err)
		}
		c.Playback.Speed = f
	}
	return nil
}

func (c *Config) Normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Archive.Driver = strings.ToLower(strings.TrimSpace(c.Archive.Driver))
	if c.Playback.Speed == 0 {
		c.Playback.Speed = 1
	}
	if c.Game.PlayerName == "" {
		c.Game.PlayerName = c.Tournament.PlayerName
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if c.Tournament.Host != "" {
		if c.Tournament.PlayerName == "" {
			errs = append(errs, errors.New("tournament.player_name is required with tournament.host"))
		}
		if !validPort(c.Tournament.Port) {
			errs = append(errs, fmt.Errorf("tournament.port %d out of range", c.Tournament.Port))
		}
	}
	if c.Game.Server != "" {
		if !validPort(c.Game.Port) {
			errs = append(errs, fmt.Errorf("game.port %d out of range", c.Game.Port))
		}
		if c.Game.Name == "" {
			errs = append(errs, errors.New("game.name is required with game.server"))
		}
	}
	if c.Tournament.Host != "" && c.Game.Server != "" {
		errs = append(errs, errors.New("tournament.host and game.server are mutually exclusive"))
	}
	if c.Playback.Speed < 0 {
		errs = append(errs, fmt.Errorf("playback.speed %v must be positive", c.Playback.Speed))
	}
	if c.Playback.FrameIntervalMS < 0 || c.Playback.Retention < 0 {
		errs = append(errs, errors.New("playback.frame_interval_ms and playback.retention must be >= 0"))
	}
	switch c.Archive.Driver {
	case "":
	case "sqlite", "postgres":
		if c.Archive.DSN == "" {
			errs = append(errs, fmt.Errorf("archive.dsn is required for driver %s", c.Archive.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.driver %q: want sqlite or postgres", c.Archive.Driver))
	}
	return multierr.Combine(errs...)
}

func validPort(p int) bool { return p > 0 && p <= 65535 }
