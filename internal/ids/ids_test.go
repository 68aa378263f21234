package ids

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildID_NotZero(t *testing.T) {
	id := NewBuildID()
	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), 26)
}

func TestBuildID_RoundTripString(t *testing.T) {
	id := NewBuildID()
	parsed, err := ParseBuildID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestBuildID_ParseInvalid(t *testing.T) {
	_, err := ParseBuildID("not-a-ulid")
	assert.Error(t, err)
}

func TestBuildID_JSONRoundTrip(t *testing.T) {
	id := NewBuildID()
	data, err := json.Marshal(id)
	require.NoError(t, err)

	var out BuildID
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, id, out)
}

func TestBuildID_ZeroJSONIsNull(t *testing.T) {
	var zero BuildID
	data, err := json.Marshal(zero)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestBuildID_ValueScan(t *testing.T) {
	id := NewBuildID()
	v, err := id.Value()
	require.NoError(t, err)

	var out BuildID
	require.NoError(t, out.Scan(v))
	assert.Equal(t, id, out)
}

func TestBuildID_ScanNil(t *testing.T) {
	var out BuildID
	require.NoError(t, out.Scan(nil))
	assert.True(t, out.IsZero())
}

func TestNewRequestID_Unique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.NotEqual(t, a.String(), b.String())
}
