package pacing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDefaults(t *testing.T) {
	tests := []struct {
		name string
		code int
		want Class
	}{
		{"notification sent", 0, Success},
		{"indication confirmed", 14, Success},
		{"message size", 4, Oversize},
		{"bad data", 9, Malformed},
		{"app error", 8, AppError},
		{"no memory", 6, Congestion},
		{"no event memory", 12, Congestion},
		{"timeout", 13, Congestion},
		{"busy", 15, Congestion},
		{"not connected", 7, Disconnected},
		{"end of stream (ambiguous)", 10, Disconnected},
		{"end of stream", 11, Disconnected},
		{"unknown low", 42, Unclassified},
		{"unknown negative", -1, Unclassified},
		{"unknown vendor", 0x0100, Unclassified},
	}

	c := NewClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.code))
		})
	}
}

func TestClassifyOverride(t *testing.T) {
	c := NewClassifier()
	require.Equal(t, Disconnected, c.Classify(10))

	// Stacks where 10 means bad data pin it to Malformed.
	c.Override(10, Malformed)
	assert.Equal(t, Malformed, c.Classify(10))

	// Overrides are per-code; neighbors keep their defaults.
	assert.Equal(t, Disconnected, c.Classify(11))

	// Re-overriding replaces, not accumulates.
	c.Override(10, Congestion)
	assert.Equal(t, Congestion, c.Classify(10))
}

func TestParseClass(t *testing.T) {
	for _, s := range []string{"success", "oversize", "malformed", "app-error", "congestion", "disconnected", "unclassified"} {
		class, err := ParseClass(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, class.String())
	}

	_, err := ParseClass("bogus")
	assert.Error(t, err)

	class, err := ParseClass("apperror")
	require.NoError(t, err)
	assert.Equal(t, AppError, class)
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "unclassified", Class(250).String())
}
