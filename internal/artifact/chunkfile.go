package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// chunk file layout (all integers little-endian, host-endian is
// permitted by the format as long as it's applied consistently):
//
//	offset  size  field
//	0       4     magic = "CFH0"
//	4       4     chunk_count (u32)
//	8       32    version_string (zero-padded ASCII)
//	40      32    build_date_string (zero-padded ASCII)
//	72      N*52  chunk directory, each entry:
//	                0   8   type_code (u64)
//	                8   4   chunk_version (u32)
//	                12  32  name (zero-padded ASCII)
//	                44  4   file_offset (u32, absolute from file start)
//	                48  4   size (u32)
//	...           chunk payloads packed in directory order

const (
	chunkMagic      = "CFH0"
	headerSize      = 4 + 4 + 32 + 32
	dirEntrySize    = 8 + 4 + 32 + 4 + 4
	nameFieldLen    = 32
	versionFieldLen = 32
)

var byteOrder = binary.LittleEndian

// Predicate selects which chunks participate in a BuildChunkFile call.
type Predicate func(Chunk) bool

// AllChunks is the trivial Predicate that accepts every chunk.
func AllChunks(Chunk) bool { return true }

func padded(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// BuildChunkFile writes chunks matching predicate to w in the chunk-file
// binary format, using versionString/buildDate for the file header.
// Chunks are written in the same order as chunks; payloads are packed
// immediately after the directory with no padding. No chunk is aligned to
// any boundary, block-serializer payloads included.
func BuildChunkFile(w io.Writer, chunks []Chunk, predicate Predicate, versionString, buildDate string) error {
	if predicate == nil {
		predicate = AllChunks
	}

	var kept []Chunk
	for _, c := range chunks {
		if predicate(c) {
			kept = append(kept, c)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(chunkMagic)
	var countBuf [4]byte
	byteOrder.PutUint32(countBuf[:], uint32(len(kept)))
	buf.Write(countBuf[:])
	buf.Write(padded(versionString, versionFieldLen))
	buf.Write(padded(buildDate, versionFieldLen))

	offset := uint32(headerSize + len(kept)*dirEntrySize)
	offsets := make([]uint32, len(kept))
	for i, c := range kept {
		offsets[i] = offset
		offset += uint32(len(c.Payload))
	}

	for i, c := range kept {
		var entry [dirEntrySize]byte
		byteOrder.PutUint64(entry[0:8], uint64(c.TypeCode))
		byteOrder.PutUint32(entry[8:12], c.Version)
		copy(entry[12:12+nameFieldLen], padded(c.Name, nameFieldLen))
		byteOrder.PutUint32(entry[44:48], offsets[i])
		byteOrder.PutUint32(entry[48:52], uint32(len(c.Payload)))
		buf.Write(entry[:])
	}

	for _, c := range kept {
		buf.Write(c.Payload)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// ReadChunkFile parses a chunk file from data, returning the chunks in
// directory order. Trailing bytes beyond the last payload are tolerated.
func ReadChunkFile(data []byte) ([]Chunk, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("artifact: chunk file truncated (%d bytes)", len(data))
	}
	if string(data[0:4]) != chunkMagic {
		return nil, fmt.Errorf("artifact: bad chunk file magic %q", data[0:4])
	}
	count := byteOrder.Uint32(data[4:8])

	dirEnd := headerSize + int(count)*dirEntrySize
	if len(data) < dirEnd {
		return nil, fmt.Errorf("artifact: chunk directory truncated: need %d bytes, have %d", dirEnd, len(data))
	}

	chunks := make([]Chunk, 0, count)
	for i := 0; i < int(count); i++ {
		base := headerSize + i*dirEntrySize
		entry := data[base : base+dirEntrySize]

		typeCode := TypeCode(byteOrder.Uint64(entry[0:8]))
		version := byteOrder.Uint32(entry[8:12])
		name := trimPadding(entry[12 : 12+nameFieldLen])
		fileOffset := byteOrder.Uint32(entry[44:48])
		size := byteOrder.Uint32(entry[48:52])

		end := uint64(fileOffset) + uint64(size)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("artifact: chunk %q payload out of bounds", name)
		}
		payload := make([]byte, size)
		copy(payload, data[fileOffset:end])

		chunks = append(chunks, Chunk{TypeCode: typeCode, Version: version, Name: name, Payload: payload})
	}
	return chunks, nil
}

func trimPadding(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// WriteCollection emits a collection to w, applying the single-text-chunk
// optimization described in the design notes: when the collection holds
// exactly one chunk of the well-known Text type, the payload is written
// raw with no envelope. This optimization is applied by the caller (here)
// rather than inferred by a reader; readers must be told out-of-band
// (typically by file extension) that a file is a raw-text payload.
func WriteCollection(w io.Writer, c *Collection, versionString, buildDate string) (rawText bool, err error) {
	if len(c.Chunks) == 1 && c.Chunks[0].TypeCode == TypeText {
		_, err = w.Write(c.Chunks[0].Payload)
		return true, err
	}
	return false, BuildChunkFile(w, c.Chunks, AllChunks, versionString, buildDate)
}
