package texture

import (
	"context"

	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/depval"
	"github.com/xlegames/forge/internal/pluginloader"
	"github.com/xlegames/forge/internal/registry"
)

// Handler adapts this package's CompileOperation to
// internal/pluginloader.RemoteCompilerHandler, the gRPC-side of the
// plugin ABI. cmd/forge-texturecompilerd is the only thing that
// constructs one.
type Handler struct {
	Version pluginloader.LibVersionDesc
}

// Attach reports this compiler's version and file kinds.
func (h Handler) Attach(context.Context) (pluginloader.LibVersionDesc, []pluginloader.FileKind, error) {
	return h.Version, FileKinds(), nil
}

// Detach is a no-op: the texture compiler has no per-attach state to
// release.
func (h Handler) Detach(context.Context) error { return nil }

// Compile runs one full compile operation and returns its dependencies,
// targets, and every target's serialized chunks.
func (h Handler) Compile(_ context.Context, initializers []string) ([]depval.DependentFileState, []registry.Target, [][]artifact.Chunk, error) {
	op, err := NewCompileOperation(initializers)
	if err != nil {
		return nil, nil, nil, err
	}

	deps := op.GetDependencies()
	targets := op.GetTargets()
	chunks := make([][]artifact.Chunk, len(targets))
	for i := range targets {
		c, err := op.SerializeTarget(i)
		if err != nil {
			return nil, nil, nil, err
		}
		chunks[i] = c
	}
	return deps, targets, chunks, nil
}
