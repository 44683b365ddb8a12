package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weftworks/weft/common/sdk"
)

// fileExportNode writes a node input to disk under a configured export root.
// Filenames are flattened to their base name so workflow authors cannot
// escape the root.
type fileExportNode struct {
	dir string
}

func (n *fileExportNode) InputPorts() []sdk.Port {
	return universalPort("input", true)
}

func (n *fileExportNode) OutputPorts() []sdk.Port {
	return universalPort("output", false)
}

func (n *fileExportNode) ConfigSchema() map[string]any {
	return objectSchema(map[string]any{
		"filename": prop("string", "target file name; directories are stripped"),
		"format":   prop("string", "json or text, default json"),
	}, "filename")
}

func (n *fileExportNode) Execute(_ context.Context, in *sdk.NodeExecutionInput) (map[string]any, error) {
	if n.dir == "" {
		return nil, fmt.Errorf("file export is not configured: no export directory")
	}
	input, ok := in.Ports["input"]
	if !ok || input == nil {
		return nil, fmt.Errorf("input is required")
	}

	name := filepath.Base(stringOr(in.Config, "filename", ""))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("filename is required")
	}

	format := stringOr(in.Config, "format", "json")
	var data []byte
	switch format {
	case "json":
		b, err := json.MarshalIndent(input, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("input is not JSON-encodable: %w", err)
		}
		data = append(b, '\n')
	case "text":
		data = []byte(stringifyPort(input))
	default:
		return nil, fmt.Errorf("unsupported format %q: use json or text", format)
	}

	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(n.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write export file: %w", err)
	}

	return map[string]any{
		"output":        path,
		"path":          path,
		"bytes_written": len(data),
		"format":        format,
	}, nil
}
