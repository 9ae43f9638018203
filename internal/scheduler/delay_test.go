package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redisplay/server/internal/domain"
)

func TestParseRotateAt(t *testing.T) {
	// Wednesday 14:30 local time.
	now := time.Date(2024, 1, 3, 14, 30, 0, 0, time.Local)

	tests := []struct {
		expr string
		want time.Duration
	}{
		{"+30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h", time.Hour},
		{"+1h30m", 90 * time.Minute},
		{"15:00", 30 * time.Minute},
		{"14:31", time.Minute},
		// Already past today, resolves to tomorrow.
		{"14:30", 24 * time.Hour},
		{"09:00", 18*time.Hour + 30*time.Minute},
		{"00:00", 9*time.Hour + 30*time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseRotateAt(tt.expr, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRotateAt_Invalid(t *testing.T) {
	now := time.Now()
	for _, expr := range []string{"", "soon", "25:00", "12:75", "-5m", "0s"} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseRotateAt(expr, now)
			assert.Error(t, err)
		})
	}
}

func TestResolveDelay(t *testing.T) {
	now := time.Date(2024, 1, 3, 14, 30, 0, 0, time.Local)

	t.Run("rotate_after wins over rotate_at", func(t *testing.T) {
		md := domain.ViewMetadata{RotateAfter: 2500, RotateAt: "1h"}
		d, ok := resolveDelay(md, 1000, now)
		require.True(t, ok)
		assert.Equal(t, 2500*time.Millisecond, d)
	})

	t.Run("rotate_at wins over fallback", func(t *testing.T) {
		md := domain.ViewMetadata{RotateAt: "15:00"}
		d, ok := resolveDelay(md, 1000, now)
		require.True(t, ok)
		assert.Equal(t, 30*time.Minute, d)
	})

	t.Run("invalid rotate_at falls back", func(t *testing.T) {
		md := domain.ViewMetadata{RotateAt: "soon"}
		d, ok := resolveDelay(md, 1000, now)
		require.True(t, ok)
		assert.Equal(t, time.Second, d)
	})

	t.Run("nothing applies", func(t *testing.T) {
		_, ok := resolveDelay(domain.ViewMetadata{}, 0, now)
		assert.False(t, ok)
	})
}
