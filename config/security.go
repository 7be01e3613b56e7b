package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelyactive/barnowl/errors"
)

// Limits on what the loader accepts from disk and the environment
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

func invalidPath(path, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s: %s", errors.ErrInvalidConfig, path, reason),
		"Loader", "LoadFile", "validate path")
}

// validateConfigPath accepts JSON and YAML files. Relative paths must stay
// under the working directory; absolute ones must not contain "..".
func validateConfigPath(path string) error {
	switch {
	case path == "":
		return invalidPath(path, "empty path")
	case len(path) > maxPathLen:
		return invalidPath(path[:64]+"...", "path too long")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return invalidPath(path, "not a .json, .yaml or .yml file")
	}

	if filepath.IsAbs(path) {
		for _, part := range strings.Split(filepath.ToSlash(path), "/") {
			if part == ".." {
				return invalidPath(path, "parent directory reference")
			}
		}
		return nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return errors.WrapFatal(err, "Loader", "LoadFile", "working directory")
	}
	rel, err := filepath.Rel(cwd, filepath.Join(cwd, path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return invalidPath(path, "outside the working directory")
	}
	return nil
}

// safeReadFile reads a validated, regular, reasonably sized config file
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "stat config")
	}
	if !info.Mode().IsRegular() {
		return nil, invalidPath(path, "not a regular file")
	}
	if info.Size() > maxConfigSize {
		return nil, invalidPath(path, fmt.Sprintf("%d bytes exceeds %d", info.Size(), maxConfigSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "read config")
	}
	return data, nil
}

// validateEnvVar rejects oversized values and embedded NULs
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return errors.WrapInvalid(fmt.Errorf("%w: %s is %d bytes", errors.ErrInvalidConfig, key, len(value)),
			"Loader", "Load", "environment override")
	}
	if strings.IndexByte(value, 0) >= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: NUL byte in %s", errors.ErrInvalidConfig, key),
			"Loader", "Load", "environment override")
	}
	return nil
}

// validateJSONDepth bounds object and array nesting before the document is
// unmarshalled, and catches unbalanced brackets outside strings.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString, escaped := false, false

	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("nesting deeper than %d", maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced closing bracket")
			}
		}
	}

	if depth != 0 {
		return fmt.Errorf("%d unclosed brackets", depth)
	}
	return nil
}
