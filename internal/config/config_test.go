package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 1.0, cfg.Playback.Speed)
	assert.True(t, cfg.Game.Spectating)
}

func TestYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turncast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: DEBUG
  format: console
tournament:
  host: arena.local
  port: 5454
  player_name: bot
playback:
  frame_interval_ms: 33
  retention: 10
`), 0o644))

	cfg, err := load(path, env(map[string]string{
		"TURNCAST_TOURNAMENT_PORT": "6000",
		"TURNCAST_FOLLOW":          "false",
		"TURNCAST_PLAYBACK_SPEED":  "2.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "arena.local", cfg.Tournament.Host)
	assert.Equal(t, 6000, cfg.Tournament.Port)
	assert.Equal(t, "bot", cfg.Game.PlayerName)
	assert.Equal(t, 10, cfg.Playback.Retention)
	assert.Equal(t, int64(33e6), cfg.Playback.FrameInterval().Nanoseconds())
	assert.False(t, cfg.Playback.Follow)
	assert.Equal(t, 2.5, cfg.Playback.Speed)
}

func TestBadEnvValue(t *testing.T) {
	_, err := load("", env(map[string]string{"TURNCAST_GAME_PORT": "eighty"}))
	assert.ErrorContains(t, err, "TURNCAST_GAME_PORT")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"tournament without player": func(c *Config) { c.Tournament.Host = "x" },
		"bad game port":             func(c *Config) { c.Game.Server = "x"; c.Game.Name = "Chess"; c.Game.Port = 0 },
		"both sources":              func(c *Config) { c.Tournament.Host = "x"; c.Tournament.PlayerName = "p"; c.Game.Server = "y"; c.Game.Name = "Chess" },
		"unknown archive driver":    func(c *Config) { c.Archive.Driver = "mysql" },
		"archive without dsn":       func(c *Config) { c.Archive.Driver = "sqlite" },
		"bad log format":            func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			cfg.Normalize()
			assert.Error(t, cfg.Validate())
		})
	}
}
