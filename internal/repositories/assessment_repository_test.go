package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Result slices must never be pre-sized from the caller's limit: a single
// request with limit=1<<30 would otherwise allocate a multi-hundred-GiB
// backing array and abort the process before the first row is read.
func TestPagePreallocBoundsCallerLimit(t *testing.T) {
	cases := []struct {
		name  string
		limit int
		want  int
	}{
		{"typical page", 300, 300},
		{"zero", 0, 0},
		{"negative", -1, 0},
		{"at cap", maxPagePrealloc, maxPagePrealloc},
		{"just over cap", maxPagePrealloc + 1, maxPagePrealloc},
		{"huge limit", 1 << 30, maxPagePrealloc},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pagePrealloc(tc.limit))
		})
	}
}

func TestPagePreallocAllocationStaysSmall(t *testing.T) {
	// The exact expression ListPage uses for its result slice.
	out := make([]int64, 0, pagePrealloc(1<<30))
	assert.Equal(t, maxPagePrealloc, cap(out))
}

func TestEmptyToNull(t *testing.T) {
	assert.Nil(t, emptyToNull(""))
	assert.Equal(t, "2024-03-01 10:00:00", emptyToNull("2024-03-01 10:00:00"))
}
