package store

import (
	"encoding/xml"
	"fmt"

	"github.com/xlegames/forge/internal/artifact"
)

// manifest is the compile-products manifest: which type codes a stored
// product contains and the on-disk path they live at. Products are
// written in the aggregate-chunk-file layout, so every entry currently
// shares the same Path; the manifest still records one entry per type
// code so a future loose-file layout is a additive change, not a format
// break.
type manifest struct {
	XMLName xml.Name         `xml:"Manifest"`
	Entries []manifestEntry `xml:"Product"`
}

type manifestEntry struct {
	TypeCode uint64 `xml:"typeCode,attr"`
	Path     string `xml:"path,attr"`
}

func encodeManifest(chunks []artifact.Chunk, path string) ([]byte, error) {
	var m manifest
	for _, c := range chunks {
		m.Entries = append(m.Entries, manifestEntry{TypeCode: uint64(c.TypeCode), Path: path})
	}
	data, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: encoding manifest: %w", err)
	}
	return data, nil
}

func decodeManifest(data []byte) (*manifest, error) {
	var m manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("store: decoding manifest: %w", err)
	}
	return &m, nil
}
