package version

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// will be replaced with the release version when using goreleaser
var version = "development"

// Version returns the build version of otaguard
func Version() string {
	return version
}

// ParseFirmware parses a firmware version string. Semantic versions with an optional
// leading "v" are accepted.
func ParseFirmware(s string) (*goversion.Version, error) {
	v, err := goversion.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid firmware version %q: %w", s, err)
	}
	return v, nil
}

// IsDowngrade reports whether next is lower than previous. An empty previous is never a downgrade.
func IsDowngrade(previous, next string) (bool, error) {
	if previous == "" {
		return false, nil
	}
	prev, err := ParseFirmware(previous)
	if err != nil {
		return false, err
	}
	nxt, err := ParseFirmware(next)
	if err != nil {
		return false, err
	}
	return nxt.LessThan(prev), nil
}
