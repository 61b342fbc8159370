package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 4, 10, 20, 30, 0, time.UTC)

	for _, in := range []interface{}{
		"2025-03-04T10:20:30Z",
		"2025-03-04T10:20:30",
		"2025-03-04 10:20:30",
		"2025-03-04T12:20:30+02:00",
		"2025-03-04 12:20:30+02:00",
		[]byte("2025-03-04 10:20:30"),
		want.In(time.FixedZone("x", 3600)),
	} {
		got := parseTimestamp(in)
		require.NotNil(t, got, "%v", in)
		assert.True(t, want.Equal(*got), "%v parsed as %v", in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	frac := parseTimestamp("2025-03-04 10:20:30.123456")
	require.NotNil(t, frac)
	assert.Equal(t, 123456000, frac.Nanosecond())

	day := parseTimestamp("2025-03-04")
	require.NotNil(t, day)
	assert.Equal(t, "2025-03-04", day.Format(dateLayout))

	for _, in := range []interface{}{nil, "", "   ", "yesterday", "04/03/2025", int64(1700000000), time.Time{}} {
		assert.Nil(t, parseTimestamp(in), "%v", in)
	}
}
