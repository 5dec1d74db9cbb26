package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultDataRoot = "/var/lib/siteguard"

// ResolveDataRoot returns the absolute path to the siteguard data directory.
func ResolveDataRoot() string {
	root := os.Getenv("SITEGUARD_DATA_ROOT")
	if root == "" {
		root = DefaultDataRoot
	}
	return root
}

// ResolveConfigPath returns the absolute path to the default configuration file.
func ResolveConfigPath(customPath string) string {
	if customPath != "" {
		return customPath
	}
	return filepath.Join(ResolveDataRoot(), "config", "default.yaml")
}

// ResolveThumbnailDir returns the directory event thumbnails are written to.
func ResolveThumbnailDir() string {
	if dir := os.Getenv("THUMBNAIL_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(ResolveDataRoot(), "thumbnails")
}

// ResolveWeightsPath returns the detector weights file location.
func ResolveWeightsPath() string {
	if p := os.Getenv("MODEL_WEIGHTS"); p != "" {
		return p
	}
	return filepath.Join(ResolveDataRoot(), "models", "ppe.onnx")
}

// EnsureDirs creates the standard siteguard data subdirectories if they don't exist.
func EnsureDirs() error {
	dataRoot := ResolveDataRoot()
	subdirs := []string{
		"config",
		"thumbnails",
		"models",
		"tmp",
	}

	for _, sub := range subdirs {
		path := filepath.Join(dataRoot, sub)
		if err := os.MkdirAll(path, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result is within the base directory (no traversal).
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}
