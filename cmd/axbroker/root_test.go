package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbosityMapping(t *testing.T) {
	assert.Equal(t, slog.LevelError, verbosity(0))
	assert.Equal(t, slog.LevelWarn, verbosity(1))
	assert.Equal(t, slog.LevelInfo, verbosity(2))
	assert.True(t, verbosity(5) < slog.LevelDebug)
}
