package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextPositionStopsWhenNothingReturned(t *testing.T) {
	_, more := NextPosition(0, 0, 100, 30)
	assert.False(t, more)

	_, more = NextPosition(30, -1, 100, 30)
	assert.False(t, more)
}

func TestNextPositionWithKnownTotal(t *testing.T) {
	// 100 total, page size 30: positions 0, 30, 60, 90, then done.
	next, more := NextPosition(0, 30, 100, 30)
	assert.True(t, more)
	assert.Equal(t, 30, next)

	next, more = NextPosition(30, 30, 100, 30)
	assert.True(t, more)
	assert.Equal(t, 60, next)

	next, more = NextPosition(60, 30, 100, 30)
	assert.True(t, more)
	assert.Equal(t, 90, next)

	next, more = NextPosition(90, 10, 100, 30)
	assert.True(t, more)
	assert.Equal(t, 100, next)

	// Covered exactly; a final empty page ends it.
	_, more = NextPosition(100, 0, 100, 30)
	assert.False(t, more)
}

func TestNextPositionKnownTotalOvershoot(t *testing.T) {
	// Position plus returned past the reported total means exhausted.
	_, more := NextPosition(90, 30, 100, 30)
	assert.False(t, more)
}

func TestNextPositionUnknownTotal(t *testing.T) {
	// Full page with no reported total keeps going.
	next, more := NextPosition(0, 30, 0, 30)
	assert.True(t, more)
	assert.Equal(t, 30, next)

	// Short page with no reported total stops.
	_, more = NextPosition(30, 12, 0, 30)
	assert.False(t, more)
}

func TestNextPositionDegeneratePageSize(t *testing.T) {
	// Page size below 1 is treated as 1, so a single returned record with
	// unknown total still advances.
	next, more := NextPosition(0, 1, 0, 0)
	assert.True(t, more)
	assert.Equal(t, 1, next)
}
