package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ErrorThreshold:      3,
		Window:              time.Minute,
		Cooldown:            50 * time.Millisecond,
		HalfOpenProbeVolume: 2,
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(testConfig())
	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.CanOpenNewPosition())
}

func TestBreaker_TripsAfterErrorThreshold(t *testing.T) {
	b := New(testConfig())
	b.RecordError("e1")
	b.RecordError("e2")
	assert.True(t, b.CanOpenNewPosition())
	b.RecordError("e3")
	assert.Equal(t, StateOpen, b.GetState())
	assert.False(t, b.CanOpenNewPosition())
}

func TestBreaker_ErrorsOutsideWindowDontAccumulate(t *testing.T) {
	cfg := testConfig()
	cfg.Window = 10 * time.Millisecond
	b := New(cfg)
	b.RecordError("e1")
	b.RecordError("e2")
	time.Sleep(20 * time.Millisecond)
	b.RecordError("e3")
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_ProbesHalfOpenAfterCooldown(t *testing.T) {
	b := New(testConfig())
	b.RecordError("e1")
	b.RecordError("e2")
	b.RecordError("e3")
	require.Equal(t, StateOpen, b.GetState())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.GetState())
	assert.True(t, b.CanOpenNewPosition())
}

func TestBreaker_ErrorDuringHalfOpenReopensImmediately(t *testing.T) {
	b := New(testConfig())
	b.RecordError("e1")
	b.RecordError("e2")
	b.RecordError("e3")
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.GetState())

	b.RecordError("probe failed")
	assert.Equal(t, StateOpen, b.GetState())
}

func TestBreaker_ClosesAfterProbeVolumeSucceeds(t *testing.T) {
	b := New(testConfig())
	b.RecordError("e1")
	b.RecordError("e2")
	b.RecordError("e3")
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.GetState())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.GetState())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_RecordSuccessIgnoredWhenNotHalfOpen(t *testing.T) {
	b := New(testConfig())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetState())
}

func TestBreaker_ReasonReflectsLastTrip(t *testing.T) {
	b := New(testConfig())
	b.RecordError("e1")
	b.RecordError("e2")
	b.RecordError("connectivity lost")
	assert.Contains(t, b.Reason(), "connectivity lost")
}
