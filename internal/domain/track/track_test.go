package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestItem_SetRequestedBy(t *testing.T) {
	it := &Item{Title: "song"}

	assert.True(t, it.SetRequestedBy("alice"))
	assert.False(t, it.SetRequestedBy("bob"))
	assert.Equal(t, "alice", it.RequestedBy())
}

func TestItem_Clone(t *testing.T) {
	it := &Item{
		Title:    "song",
		Author:   "artist",
		Duration: 3 * time.Minute,
		URI:      "https://example.com/song",
		ISRC:     "USRC17607839",
	}
	it.SetRequestedBy("alice")
	it.SetPosition(42 * time.Second)

	c := it.Clone()

	assert.NotSame(t, it, c)
	assert.Equal(t, it.Title, c.Title)
	assert.Equal(t, it.ISRC, c.ISRC)
	assert.Equal(t, "alice", c.RequestedBy())
	assert.Equal(t, time.Duration(0), c.Position())
	assert.Equal(t, 42*time.Second, it.Position())

	// Tag stays immutable on the clone
	assert.False(t, c.SetRequestedBy("bob"))
}

func TestItem_SetPosition(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		pos      time.Duration
		expected time.Duration
	}{
		{name: "within range", duration: time.Minute, pos: 10 * time.Second, expected: 10 * time.Second},
		{name: "negative", duration: time.Minute, pos: -time.Second, expected: 0},
		{name: "beyond end", duration: time.Minute, pos: 2 * time.Minute, expected: time.Minute},
		{name: "unknown duration", duration: 0, pos: 5 * time.Second, expected: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := &Item{Duration: tt.duration}
			it.SetPosition(tt.pos)
			assert.Equal(t, tt.expected, it.Position())
		})
	}
}

func TestItem_Seekable(t *testing.T) {
	assert.True(t, (&Item{Duration: time.Minute}).Seekable())
	assert.False(t, (&Item{Duration: time.Minute, IsLive: true}).Seekable())
	assert.False(t, (&Item{}).Seekable())
}

func TestDescriptors(t *testing.T) {
	items := []*Item{
		{Title: "a", Author: "x", URI: "u1", Duration: 1500 * time.Millisecond},
		{Title: "b", Author: "y", URI: "u2", IsLive: true},
	}

	got := Descriptors(items)

	assert.Equal(t, []Descriptor{
		{Title: "a", Author: "x", URI: "u1", DurationMs: 1500},
		{Title: "b", Author: "y", URI: "u2", IsLive: true},
	}, got)
}
