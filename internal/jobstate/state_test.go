package jobstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{name: "queued to analyzing", from: Queued, to: Analyzing, want: true},
		{name: "analyzing to mixing", from: Analyzing, to: Mixing, want: true},
		{name: "mixing to mastering", from: Mixing, to: Mastering, want: true},
		{name: "mastering to complete", from: Mastering, to: Complete, want: true},
		{name: "queued to error", from: Queued, to: Error, want: true},
		{name: "mixing to error", from: Mixing, to: Error, want: true},
		{name: "skip analyzing", from: Queued, to: Mixing, want: false},
		{name: "skip to complete", from: Analyzing, to: Complete, want: false},
		{name: "backwards", from: Mastering, to: Mixing, want: false},
		{name: "same state", from: Mixing, to: Mixing, want: false},
		{name: "from complete", from: Complete, to: Error, want: false},
		{name: "from error", from: Error, to: Queued, want: false},
		{name: "unknown target", from: Queued, to: State("paused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestProgressIsMonotonicAlongSuccessPath(t *testing.T) {
	s := Queued
	last := s.Progress()
	assert.Equal(t, 0, last)
	for {
		next, ok := s.Next()
		if !ok {
			break
		}
		assert.Greater(t, next.Progress(), last)
		last = next.Progress()
		s = next
	}
	assert.Equal(t, Complete, s)
	assert.Equal(t, 100, last)
}

func TestParse(t *testing.T) {
	st, err := Parse("mastering")
	require.NoError(t, err)
	assert.Equal(t, Mastering, st)

	_, err = Parse("done")
	assert.Error(t, err)
}

func TestBefore(t *testing.T) {
	assert.True(t, Queued.Before(Mixing))
	assert.False(t, Mastering.Before(Analyzing))
	assert.False(t, Error.Before(Complete))
	assert.True(t, Error.Terminal())
	assert.False(t, Analyzing.Terminal())
}
