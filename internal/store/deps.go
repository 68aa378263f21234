package store

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/xlegames/forge/internal/depval"
)

// depFile is the on-disk dependency manifest: a BasePath the relative
// filenames were computed against (so the cache can be relocated without
// rewriting every record) plus one Dependency entry per tracked input.
// Shadowed dependencies are written without mod-time attributes; their
// mere presence is treated as an immediate invalidation on retrieve.
type depFile struct {
	XMLName  xml.Name   `xml:"Dependencies"`
	BasePath string     `xml:"BasePath,attr"`
	Entries  []depEntry `xml:"Dependency"`
}

type depEntry struct {
	Filename string  `xml:"filename,attr"`
	ModTimeH *uint32 `xml:"ModTimeH,attr,omitempty"`
	ModTimeL *uint32 `xml:"ModTimeL,attr,omitempty"`
}

func splitTime(t time.Time) (hi, lo uint32) {
	v := uint64(t.UnixNano())
	return uint32(v >> 32), uint32(v)
}

func joinTime(hi, lo uint32) time.Time {
	v := uint64(hi)<<32 | uint64(lo)
	return time.Unix(0, int64(v)).UTC()
}

func encodeDepFile(basePath string, deps []depval.DependentFileState) ([]byte, error) {
	doc := depFile{BasePath: basePath}
	for _, d := range deps {
		entry := depEntry{Filename: d.Filename}
		if d.Status != depval.Shadowed {
			hi, lo := splitTime(d.ModTime)
			entry.ModTimeH = &hi
			entry.ModTimeL = &lo
		}
		doc.Entries = append(doc.Entries, entry)
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("store: encoding dependency file: %w", err)
	}
	return data, nil
}

func decodeDepFile(data []byte) (*depFile, error) {
	var doc depFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: decoding dependency file: %w", err)
	}
	return &doc, nil
}

// toStates converts the decoded manifest back into DependentFileState
// values suitable for depval.Tracker.TryRegisterDependency. An entry with
// no mod-time attributes is reported as Shadowed, matching the write-side
// convention.
func (d *depFile) toStates() []depval.DependentFileState {
	states := make([]depval.DependentFileState, 0, len(d.Entries))
	for _, e := range d.Entries {
		if e.ModTimeH == nil || e.ModTimeL == nil {
			states = append(states, depval.DependentFileState{Filename: e.Filename, Status: depval.Shadowed})
			continue
		}
		states = append(states, depval.DependentFileState{
			Filename: e.Filename,
			ModTime:  joinTime(*e.ModTimeH, *e.ModTimeL),
			Status:   depval.Normal,
		})
	}
	return states
}
