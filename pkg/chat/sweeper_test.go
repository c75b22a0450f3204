package chat

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper(t *testing.T) {
	m := newTestManager(t, &fakeRunner{}, Config{})

	s, err := NewSweeper(m, "@every 1m", zerolog.Nop())
	require.NoError(t, err)
	s.Start()
	s.Stop()
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	m := newTestManager(t, &fakeRunner{}, Config{})

	_, err := NewSweeper(m, "not a schedule", zerolog.Nop())
	assert.ErrorContains(t, err, "invalid sweep schedule")
}
