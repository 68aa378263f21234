// Package artifact models the output of a single compile operation: one
// or more typed, versioned chunks plus the dependency-validation node
// that determines whether the collection is still fresh, and the binary
// chunk-file envelope used to persist a collection to disk.
package artifact

import (
	"fmt"
	"hash/fnv"
	"os"

	"github.com/xlegames/forge/internal/depval"
)

// TypeCode identifies the kind of data a chunk holds. Well-known codes
// are 64-bit FNV-1a hashes of an ASCII mnemonic; engine-defined codes
// follow the same convention so a single hash function covers both.
type TypeCode uint64

// HashTypeCode derives a TypeCode from an ASCII mnemonic, matching the
// well-known codes below and letting callers mint their own engine-defined
// codes (model scaffold, material scaffold, animation set, skeleton, ...)
// the same way.
func HashTypeCode(mnemonic string) TypeCode {
	h := fnv.New64a()
	h.Write([]byte(mnemonic))
	return TypeCode(h.Sum64())
}

// Well-known chunk type codes.
var (
	TypeLog     = HashTypeCode("Log")
	TypeMetrics = HashTypeCode("Metrics")
	TypeText    = HashTypeCode("Text")
)

// AnyVersion is the sentinel expected-version value that disables version
// checking in ResolveRequests.
const AnyVersion uint32 = 0xffffffff

// Artifact is a single produced data item: either held in memory (Blob)
// or on disk (File). Both variants expose the same narrow capability set.
type Artifact interface {
	// Bytes returns the artifact's raw payload.
	Bytes() ([]byte, error)
	// ErrorLog returns a human-readable error message, or "" if none.
	ErrorLog() string
	// DepVal returns the validation node guarding this artifact's freshness.
	DepVal() *depval.Node
}

// BlobArtifact holds its data as an in-memory byte slice.
type BlobArtifact struct {
	Data   []byte
	Err    string
	DepNod *depval.Node
}

func (a *BlobArtifact) Bytes() ([]byte, error)  { return a.Data, nil }
func (a *BlobArtifact) ErrorLog() string        { return a.Err }
func (a *BlobArtifact) DepVal() *depval.Node    { return a.DepNod }

// FileArtifact holds its data on disk at Path, read lazily.
type FileArtifact struct {
	Path   string
	Err    string
	DepNod *depval.Node
	reader func(string) ([]byte, error) // injected for testability; defaults to os.ReadFile
}

func (a *FileArtifact) Bytes() ([]byte, error) {
	if a.reader != nil {
		return a.reader(a.Path)
	}
	return readFile(a.Path)
}
func (a *FileArtifact) ErrorLog() string     { return a.Err }
func (a *FileArtifact) DepVal() *depval.Node { return a.DepNod }

// Chunk is one named, typed, versioned section of data within an
// artifact collection or a chunk file.
type Chunk struct {
	TypeCode TypeCode
	Version  uint32
	Name     string
	Payload  []byte
}

// AssetState is the terminal state of an artifact collection.
type AssetState int

const (
	Pending AssetState = iota
	Ready
	Invalid
)

func (s AssetState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Collection is the ordered set of chunks produced by one compile
// operation, its aggregate dependency-validation node, and its terminal
// state. A collection is invalid iff it holds exactly one chunk, of the
// well-known Log type (the error-reporting convention: compilers emit a
// Log-only collection to report a compile failure).
type Collection struct {
	Chunks []Chunk
	DepNod *depval.Node
	State  AssetState
}

// IsInvalid reports whether c is a Log-only failure collection.
func (c *Collection) IsInvalid() bool {
	return len(c.Chunks) == 1 && c.Chunks[0].TypeCode == TypeLog
}

// NewInvalidCollection builds the canonical error->log-chunk collection:
// a single Log chunk carrying msg, marked Invalid.
func NewInvalidCollection(msg string, dep *depval.Node) *Collection {
	return &Collection{
		Chunks: []Chunk{{TypeCode: TypeLog, Version: 1, Name: "Log", Payload: []byte(msg)}},
		DepNod: dep,
		State:  Invalid,
	}
}

// LogMessage returns the payload of the first Log chunk, if any.
func (c *Collection) LogMessage() (string, bool) {
	for _, ch := range c.Chunks {
		if ch.TypeCode == TypeLog {
			return string(ch.Payload), true
		}
	}
	return "", false
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", path, err)
	}
	return data, nil
}
