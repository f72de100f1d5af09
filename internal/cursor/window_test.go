package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNextFirstRunUsesBacklog(t *testing.T) {
	w := Next(nil, base, 5*time.Minute, 30*time.Minute)
	assert.Equal(t, base.Add(-30*time.Minute), w.Start)
	assert.Equal(t, base.Add(-25*time.Minute), w.End)
	assert.False(t, w.Empty())
}

func TestNextResumesFromWatermark(t *testing.T) {
	mark := base.Add(-10 * time.Minute)
	w := Next(&mark, base, 5*time.Minute, 30*time.Minute)
	assert.Equal(t, mark, w.Start)
	assert.Equal(t, mark.Add(5*time.Minute), w.End)
}

func TestNextClampsToDeviceNow(t *testing.T) {
	mark := base.Add(-2 * time.Minute)
	w := Next(&mark, base, 5*time.Minute, 30*time.Minute)
	assert.Equal(t, base, w.End)
}

func TestNextCaughtUpIsEmpty(t *testing.T) {
	mark := base
	w := Next(&mark, base, 5*time.Minute, 30*time.Minute)
	assert.True(t, w.Empty())

	// Device clock behind the watermark also yields an empty window.
	ahead := base.Add(time.Minute)
	w = Next(&ahead, base, 5*time.Minute, 30*time.Minute)
	assert.True(t, w.Empty())
}

func TestAdvanceSkipsBoundarySecond(t *testing.T) {
	w := Next(nil, base, 5*time.Minute, 5*time.Minute)
	next := Advance(w)
	assert.Equal(t, w.End.Add(time.Second), next)
}

func TestWindowsAreContiguous(t *testing.T) {
	mark := base.Add(-time.Hour)
	var prevEnd time.Time
	for i := 0; i < 5; i++ {
		w := Next(&mark, base, 5*time.Minute, time.Hour)
		if i > 0 {
			assert.Equal(t, prevEnd.Add(time.Second), w.Start)
		}
		prevEnd = w.End
		mark = Advance(w)
	}
}

func TestWidenGrowsUpToFactor(t *testing.T) {
	start := base.Add(-time.Hour)
	w := Next(&start, base, 5*time.Minute, time.Hour)

	wide, ok := Widen(w, base, 5*time.Minute)
	assert.True(t, ok)
	assert.Equal(t, w.Start, wide.Start)
	assert.Equal(t, w.Start.Add(15*time.Minute), wide.End)
}

func TestWidenClampsToDeviceNow(t *testing.T) {
	start := base.Add(-7 * time.Minute)
	w := Next(&start, base, 5*time.Minute, time.Hour)

	wide, ok := Widen(w, base, 5*time.Minute)
	assert.True(t, ok)
	assert.Equal(t, base, wide.End)
}

func TestWidenRefusesWhenNoRoom(t *testing.T) {
	// Window already ends at deviceNow; widening has nowhere to go.
	start := base.Add(-3 * time.Minute)
	w := Next(&start, base, 5*time.Minute, time.Hour)
	assert.Equal(t, base, w.End)

	_, ok := Widen(w, base, 5*time.Minute)
	assert.False(t, ok)
}
