package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ps2000-control/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitFileOutput(t *testing.T) {
	dir := t.TempDir()
	err := Init(&config.LogConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File: config.LogFileConfig{
			Path:     filepath.Join(dir, "logs"),
			Filename: "test.log",
			MaxSize:  1,
		},
		Modules: map[string]string{"serial": "warn"},
	})
	require.NoError(t, err)

	Info("hello", zap.String("k", "v"))
	require.NoError(t, Sync())

	_, err = os.Stat(filepath.Join(dir, "logs", "test.log"))
	assert.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, Level())

	serial := WithModule("serial")
	assert.False(t, serial.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, serial.Core().Enabled(zapcore.WarnLevel))
}

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(&config.LogConfig{Level: "info", Output: "stdout"}))
	assert.False(t, GetLogger().Core().Enabled(zapcore.DebugLevel))

	SetLevel("debug")
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))

	SetLevel("error")
	assert.Equal(t, zapcore.ErrorLevel, Level())
}

func TestLogSerialCommand(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	LogSerialCommand(log, "/dev/ttyACM0", []byte{0x40, 0x00}, nil)
	LogSerialCommand(log, "/dev/ttyACM0", []byte("led on"), errors.New("broken pipe"))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "serial_command", entries[0].Message)
	assert.Equal(t, "40 00", entries[0].ContextMap()["command"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "serial_command_failed", entries[1].Message)
}
