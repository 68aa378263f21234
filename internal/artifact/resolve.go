package artifact

import (
	"bytes"
	"fmt"
)

// DataType shapes how ResolveRequests returns a matched chunk's payload.
type DataType int

const (
	// Raw copies the payload into an owned, 8-byte-aligned buffer.
	Raw DataType = iota
	// BlockSerializer is like Raw but additionally invokes a block-init
	// hook to fix up embedded pointers in the copied buffer.
	BlockSerializer
	// ReopenFunction returns a thunk that opens a fresh read stream over
	// the chunk's bytes each time it is called.
	ReopenFunction
	// SharedBlob returns the payload slice directly, without copying.
	SharedBlob
)

// Request describes one chunk a caller wants out of a Collection.
type Request struct {
	Name            string
	TypeCode        TypeCode
	ExpectedVersion uint32 // AnyVersion disables the version check
	DataType        DataType
}

// BlockInitFunc fixes up embedded pointers in a freshly copied
// block-serializer buffer. Supplied by the caller; forge's plugin domain
// has no native pointer layout to fix up, so the zero value (nil) is a
// valid no-op hook.
type BlockInitFunc func(buf []byte) error

// Resolved is the outcome of resolving one Request against a Collection.
type Resolved struct {
	Request Request
	// Buffer holds the payload for Raw/BlockSerializer requests.
	Buffer []byte
	// Reopen is set for ReopenFunction requests.
	Reopen func() (*bytes.Reader, error)
	// Shared is set for SharedBlob requests; it aliases the chunk's payload.
	Shared []byte
}

// MissingFile and UnsupportedVersion are ResolveRequests failure kinds,
// matching the error-kind vocabulary described for the pipeline's error
// handling design.
var (
	ErrDuplicateRequest  = fmt.Errorf("artifact: duplicate request type code")
	ErrMissingFile       = fmt.Errorf("artifact: missing chunk")
	ErrUnsupportedVersion = fmt.Errorf("artifact: unsupported chunk version")
)

// alignUp rounds n up to the next multiple of align (align must be a power of two).
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// ResolveRequests matches each request against chunks by type code,
// checking version unless the sentinel AnyVersion is given, and shapes
// the result according to each request's DataType. See
// internal/artifact/artifact.go for the chunk layout this operates over.
func ResolveRequests(chunks []Chunk, requests []Request, blockInit BlockInitFunc) ([]Resolved, error) {
	seen := make(map[TypeCode]bool, len(requests))
	for _, r := range requests {
		if seen[r.TypeCode] {
			return nil, fmt.Errorf("%w: %#x", ErrDuplicateRequest, uint64(r.TypeCode))
		}
		seen[r.TypeCode] = true
	}

	byType := make(map[TypeCode]Chunk, len(chunks))
	for _, c := range chunks {
		byType[c.TypeCode] = c
	}

	results := make([]Resolved, len(requests))
	for i, req := range requests {
		chunk, ok := byType[req.TypeCode]
		if !ok {
			return nil, fmt.Errorf("%w: type %#x (%s)", ErrMissingFile, uint64(req.TypeCode), req.Name)
		}
		if req.ExpectedVersion != AnyVersion && chunk.Version != req.ExpectedVersion {
			return nil, fmt.Errorf("%w: %s wants v%d, have v%d", ErrUnsupportedVersion, req.Name, req.ExpectedVersion, chunk.Version)
		}

		res := Resolved{Request: req}
		switch req.DataType {
		case Raw, BlockSerializer:
			aligned := make([]byte, alignUp(len(chunk.Payload), 8))
			copy(aligned, chunk.Payload)
			if req.DataType == BlockSerializer && blockInit != nil {
				if err := blockInit(aligned[:len(chunk.Payload)]); err != nil {
					return nil, fmt.Errorf("artifact: block init for %s: %w", req.Name, err)
				}
			}
			res.Buffer = aligned[:len(chunk.Payload)]
		case ReopenFunction:
			payload := chunk.Payload
			res.Reopen = func() (*bytes.Reader, error) {
				return bytes.NewReader(payload), nil
			}
		case SharedBlob:
			res.Shared = chunk.Payload
		default:
			return nil, fmt.Errorf("artifact: unknown data type %d for %s", req.DataType, req.Name)
		}
		results[i] = res
	}
	return results, nil
}
