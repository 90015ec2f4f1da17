package bridge

import (
	"path/filepath"
	"runtime"
)

// PlatformTable maps a GOOS value to the worker build variant directory.
type PlatformTable map[string]string

// DefaultPlatforms returns the variants the worker is built for.
func DefaultPlatforms() PlatformTable {
	return PlatformTable{
		"linux":  "lin",
		"darwin": "mac",
	}
}

// Layout locates the worker inside a build tree:
// <BuildRoot>/bin/<variant>/<Configuration>/<Name>
type Layout struct {
	BuildRoot     string
	Configuration string
	Name          string
}

// CurrentPlatform returns the running platform identifier.
func CurrentPlatform() string {
	return runtime.GOOS
}

// ResolveExecutable returns the worker path for platform. Platforms absent
// from the table, or mapped to an empty variant, are rejected.
func ResolveExecutable(platform string, table PlatformTable, layout Layout) (string, error) {
	variant, ok := table[platform]
	if !ok || variant == "" {
		known := make([]string, 0, len(table))
		for name, v := range table {
			if v != "" {
				known = append(known, name)
			}
		}
		return "", &UnsupportedPlatformError{Platform: platform, Known: known}
	}
	return filepath.Join(layout.BuildRoot, "bin", variant, layout.Configuration, layout.Name), nil
}
