package artifact

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRequestsRoundTrip(t *testing.T) {
	chunks := []Chunk{
		{TypeCode: TypeText, Version: 1, Name: "txt", Payload: []byte("abc")},
		{TypeCode: TypeMetrics, Version: 2, Name: "m", Payload: []byte("metrics-data")},
	}
	requests := []Request{
		{Name: "txt", TypeCode: TypeText, ExpectedVersion: AnyVersion, DataType: Raw},
		{Name: "m", TypeCode: TypeMetrics, ExpectedVersion: 2, DataType: SharedBlob},
	}

	results, err := ResolveRequests(chunks, requests, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []byte("abc"), results[0].Buffer)
	assert.Equal(t, []byte("metrics-data"), results[1].Shared)
}

func TestResolveRequestsMissingFile(t *testing.T) {
	_, err := ResolveRequests(nil, []Request{{TypeCode: TypeLog, DataType: Raw}}, nil)
	require.ErrorIs(t, err, ErrMissingFile)
}

func TestResolveRequestsVersionMismatch(t *testing.T) {
	chunks := []Chunk{{TypeCode: TypeLog, Version: 1, Payload: []byte("x")}}
	_, err := ResolveRequests(chunks, []Request{{TypeCode: TypeLog, ExpectedVersion: 2, DataType: Raw}}, nil)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestResolveRequestsDuplicate(t *testing.T) {
	_, err := ResolveRequests(nil, []Request{
		{TypeCode: TypeLog, DataType: Raw},
		{TypeCode: TypeLog, DataType: SharedBlob},
	}, nil)
	require.ErrorIs(t, err, ErrDuplicateRequest)
}

func TestResolveRequestsReopenFunction(t *testing.T) {
	chunks := []Chunk{{TypeCode: TypeLog, Version: 1, Payload: []byte("reopenable")}}
	results, err := ResolveRequests(chunks, []Request{
		{TypeCode: TypeLog, ExpectedVersion: AnyVersion, DataType: ReopenFunction},
	}, nil)
	require.NoError(t, err)

	r, err := results[0].Reopen()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "reopenable", string(data))
}
