package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestIsLevelEnabled(t *testing.T) {
	previous := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(previous)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	assert.False(t, IsLevelEnabled(zerolog.DebugLevel))
	assert.True(t, IsLevelEnabled(zerolog.InfoLevel))
	assert.True(t, IsLevelEnabled(zerolog.ErrorLevel))

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	assert.True(t, IsLevelEnabled(zerolog.DebugLevel))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("Warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
}
