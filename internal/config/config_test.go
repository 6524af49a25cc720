package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dropship.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 22023, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Rooms.CreateTimeout)
	assert.Equal(t, "/", cfg.Rooms.ChatCommands.Prefix)
	assert.Equal(t, "off", cfg.Auth.Mode)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
port: 22123
rooms:
  server_as_host: true
  create_timeout: 1s
  optimizations:
    movement:
      update_rate: 3
      vision_checks: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 22123, cfg.Port)
	assert.True(t, cfg.Rooms.ServerAsHost)
	assert.Equal(t, time.Second, cfg.Rooms.CreateTimeout)
	assert.Equal(t, 3, cfg.Rooms.Optimizations.Movement.UpdateRate)
	assert.True(t, cfg.Rooms.Optimizations.Movement.VisionChecks)
}

func TestChatCommandsBoolForm(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rooms:\n  chat_commands: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Rooms.ChatCommands.Enabled)

	cfg, err = Load(writeConfig(t, "rooms:\n  chat_commands: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Rooms.ChatCommands.Enabled)
	assert.Equal(t, "/", cfg.Rooms.ChatCommands.Prefix)
}

func TestChatCommandsPrefixForm(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rooms:\n  chat_commands:\n    prefix: \"!\"\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Rooms.ChatCommands.Enabled)
	assert.Equal(t, "!", cfg.Rooms.ChatCommands.Prefix)
}

func TestUnknownObjectsShapes(t *testing.T) {
	cfg, err := Load(writeConfig(t, "rooms:\n  advanced:\n    unknown_objects: all\n"))
	require.NoError(t, err)
	assert.Equal(t, "all", cfg.Rooms.Advanced.UnknownObjects)

	cfg, err = Load(writeConfig(t, "rooms:\n  advanced:\n    unknown_objects: [77, MeetingHud]\n"))
	require.NoError(t, err)
	assert.IsType(t, []any{}, cfg.Rooms.Advanced.UnknownObjects)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DROPSHIP_PORT", "22555")
	t.Setenv("DROPSHIP_AUTH_MODE", "token")
	t.Setenv("DROPSHIP_AUTH_SECRET", "sekrit")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 22555, cfg.Port)
	assert.Equal(t, "token", cfg.Auth.Mode)
	assert.Equal(t, "sekrit", cfg.Auth.Secret)
}

func TestValidateAuthModes(t *testing.T) {
	_, err := Load(writeConfig(t, "auth:\n  mode: bogus\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "auth:\n  mode: token\n"))
	assert.Error(t, err, "token mode without a secret")

	_, err = Load(writeConfig(t, "auth:\n  mode: remote\n"))
	assert.Error(t, err, "remote mode without a base url")

	_, err = Load(writeConfig(t, "auth:\n  mode: remote\n  base_url: http://auth.local\n"))
	assert.NoError(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", d.DSN())
}
