// ABOUTME: Tests for the shared-context token convention.

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken(t *testing.T) {
	transcript := `data-scout: I searched the catalog.
Using dataset_id: abc-123
The dataset covers January through June.`

	value, ok := ExtractToken(transcript, "dataset_id")
	require.True(t, ok)
	assert.Equal(t, "abc-123", value)
}

func TestExtractToken_MostRecentWins(t *testing.T) {
	transcript := `Using dataset_id: old-456
Some analysis happened.
Using dataset_id: new-789`

	value, ok := ExtractToken(transcript, "dataset_id")
	require.True(t, ok)
	assert.Equal(t, "new-789", value)
}

func TestExtractToken_Absent(t *testing.T) {
	_, ok := ExtractToken("no markers in this text", "dataset_id")
	assert.False(t, ok)

	_, ok = ExtractToken("Using other_key: value", "dataset_id")
	assert.False(t, ok)

	_, ok = ExtractToken("Using dataset_id: value", "")
	assert.False(t, ok)
}

func TestExtractToken_MidLine(t *testing.T) {
	value, ok := ExtractToken("the output said Using dataset_id: abc-123 which we reuse", "dataset_id")
	require.True(t, ok)
	assert.Equal(t, "abc-123", value)
}

func TestMarkerLine_RoundTrip(t *testing.T) {
	line := MarkerLine("dataset_id", "abc-123")
	assert.Equal(t, "Using dataset_id: abc-123", line)

	value, ok := ExtractToken(line, "dataset_id")
	require.True(t, ok)
	assert.Equal(t, "abc-123", value)
}
