package texture

import (
	"github.com/xlegames/forge/internal/artifact"
	"github.com/xlegames/forge/internal/pluginloader"
)

// FileKinds is this compiler's self-description, reported to the
// loader over the Attach RPC (internal/pluginloader.RemoteCompilerHandler).
func FileKinds() []pluginloader.FileKind {
	return []pluginloader.FileKind{{
		AssetTypes:           []artifact.TypeCode{TypeTexture},
		RegexFilter:          `(?i)\.(png|jpe?g|bmp|tiff?|webp)$`,
		DisplayName:          "Texture",
		ExtensionsForOpenDlg: []string{"png", "jpg", "jpeg", "bmp", "tif", "tiff", "webp"},
	}}
}
