package artifact

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndReadChunkFileRoundTrip(t *testing.T) {
	chunks := []Chunk{
		{TypeCode: TypeLog, Version: 1, Name: "Log", Payload: []byte("hello")},
		{TypeCode: HashTypeCode("Model"), Version: 3, Name: "geo", Payload: bytes.Repeat([]byte{0xAB}, 37)},
	}

	var buf bytes.Buffer
	require.NoError(t, BuildChunkFile(&buf, chunks, AllChunks, "1.0", "2026-07-31"))

	got, err := ReadChunkFile(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chunks[0].Payload, got[0].Payload)
	assert.Equal(t, chunks[1].Payload, got[1].Payload)
	assert.Equal(t, "Log", got[0].Name)
	assert.Equal(t, uint32(3), got[1].Version)
}

func TestBuildChunkFileEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, BuildChunkFile(&buf, nil, AllChunks, "1.0", "date"))

	got, err := ReadChunkFile(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuildChunkFilePredicateFilters(t *testing.T) {
	chunks := []Chunk{
		{TypeCode: TypeMetrics, Version: 1, Name: "m", Payload: []byte("metrics")},
		{TypeCode: TypeLog, Version: 1, Name: "Log", Payload: []byte("ok")},
	}
	onlyLog := func(c Chunk) bool { return c.TypeCode == TypeLog }

	var buf bytes.Buffer
	require.NoError(t, BuildChunkFile(&buf, chunks, onlyLog, "1.0", "date"))

	got, err := ReadChunkFile(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Log", got[0].Name)
}

func TestCollectionIsInvalid(t *testing.T) {
	c := NewInvalidCollection("bad vertex count at line 17", nil)
	assert.True(t, c.IsInvalid())
	msg, ok := c.LogMessage()
	assert.True(t, ok)
	assert.Contains(t, msg, "line 17")

	valid := &Collection{Chunks: []Chunk{{TypeCode: HashTypeCode("Model")}}, State: Ready}
	assert.False(t, valid.IsInvalid())
}
