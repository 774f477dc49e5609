package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig(t *testing.T) {
	cfg, err := Load([]byte(`
[Server]
ListenAddr = "127.0.0.1:7100"
MaxFrameSize = 524288
StatusIntervalSec = 30
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Server)

	assert.Equal(t, "127.0.0.1:7100", cfg.Server.ListenAddr)
	assert.Equal(t, 524288, cfg.Server.MaxFrameSize)
	assert.Equal(t, 30*time.Second, cfg.Server.StatusInterval())
	assert.Equal(t, "info", cfg.Logging.Level, "logging defaults should apply")
}

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := Load([]byte("[Server]\n"))
	require.NoError(t, err)

	assert.Equal(t, ":65432", cfg.Server.ListenAddr)
	assert.NotZero(t, cfg.Server.MaxFrameSize)
	assert.Zero(t, cfg.Server.StatusInterval())
}

func TestLoadClientConfig(t *testing.T) {
	cfg, err := Load([]byte(`
[Client]
ServerAddr = "relay.example.net:65432"
Identity = "alice123abc"
DataDir = "/var/lib/padrelay"
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Client)

	assert.Equal(t, "alice123abc", cfg.Client.Identity)
	assert.Equal(t, "per-contact", cfg.Client.PadMode, "pad mode should default")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty document", ""},
		{"unknown key", "[Server]\nBogus = 1\n"},
		{"bad identity", "[Client]\nServerAddr = \"x:1\"\nIdentity = \"Short\"\nDataDir = \"/d\"\n"},
		{"missing data dir", "[Client]\nServerAddr = \"x:1\"\nIdentity = \"alice123abc\"\n"},
		{"bad pad mode", "[Client]\nServerAddr = \"x:1\"\nIdentity = \"alice123abc\"\nDataDir = \"/d\"\nPadMode = \"pooled\"\n"},
		{"negative frame size", "[Server]\nMaxFrameSize = -1\n"},
		{"bad log level", "[Server]\n[Logging]\nLevel = \"loud\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Server]\nListenAddr = \":7200\"\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7200", cfg.Server.ListenAddr)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoggingApply(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetLevel(logrus.InfoLevel)

	l := &Logging{Level: "debug", File: filepath.Join(t.TempDir(), "relay.log")}
	closeFn, err := l.Apply()
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer closeFn()

	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	_, err = os.Stat(l.File)
	assert.NoError(t, err)
}
