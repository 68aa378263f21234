// Package texture is a reference compiler: it decodes a source image
// into a raw RGBA texture chunk. It exists to exercise the plugin ABI
// end to end with something a real engine would plausibly compile,
// separate from the glue in cmd/forge-texturecompilerd, which only
// serves this package's Handler over gRPC.
package texture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
	"github.com/xlegames/forge/internal/registry"
)

// TypeTexture is this compiler's sole output type: a decoded RGBA
// texture with a small fixed header.
var TypeTexture = artifact.HashTypeCode("Texture")

const textureChunkVersion uint32 = 1

func init() {
	image.RegisterFormat("bmp", "BM", bmp.Decode, bmp.DecodeConfig)
	image.RegisterFormat("tiff", "II*\x00", tiff.Decode, tiff.DecodeConfig)
	image.RegisterFormat("tiff", "MM\x00*", tiff.Decode, tiff.DecodeConfig)
	image.RegisterFormat("webp", "RIFF", webp.Decode, webp.DecodeConfig)
}

// CompileOperation decodes one image file into a single Texture chunk.
type CompileOperation struct {
	path string
}

// NewCompileOperation builds a CompileOperation for the first initializer,
// the source image path. Additional initializers (e.g. a target format
// override) are accepted by the regex filter but not yet interpreted.
func NewCompileOperation(initializers []string) (registry.CompileOperation, error) {
	if len(initializers) == 0 {
		return nil, fmt.Errorf("texture: at least one initializer (source image path) is required")
	}
	return &CompileOperation{path: initializers[0]}, nil
}

// GetDependencies reports the single source file this texture was built
// from, so an edit to it invalidates any cached compile.
func (c *CompileOperation) GetDependencies() []depval.DependentFileState {
	info, err := os.Stat(c.path)
	if err != nil {
		return []depval.DependentFileState{{Filename: c.path, Status: depval.Shadowed}}
	}
	return []depval.DependentFileState{{Filename: c.path, ModTime: info.ModTime()}}
}

// GetTargets returns the one target this compiler ever produces.
func (c *CompileOperation) GetTargets() []registry.Target {
	return []registry.Target{{TypeCode: TypeTexture, Name: strings.TrimSuffix(filepath.Base(c.path), filepath.Ext(c.path))}}
}

// SerializeTarget decodes the image and encodes it as a Texture chunk:
// an 8-byte (width, height) header followed by raw RGBA8 pixel data,
// row-major, no padding.
func (c *CompileOperation) SerializeTarget(i int) ([]artifact.Chunk, error) {
	if i != 0 {
		return nil, fmt.Errorf("texture: no target at index %d", i)
	}

	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("texture: opening %s: %w", c.path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("texture: decoding %s: %w", c.path, err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	var buf bytes.Buffer
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(bounds.Dx()))
	binary.LittleEndian.PutUint32(header[4:8], uint32(bounds.Dy()))
	buf.Write(header[:])
	buf.Write(rgba.Pix)

	return []artifact.Chunk{{
		TypeCode: TypeTexture,
		Version:  textureChunkVersion,
		Name:     "Texture",
		Payload:  buf.Bytes(),
	}}, nil
}

// DecodedSize returns the texture's pixel dimensions without decoding
// the full image, for callers that only need to validate the source.
func DecodedSize(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("texture: opening %s: %w", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("texture: reading config of %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}
