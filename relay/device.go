package relay

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/guseggert/replrelay/config"
)

// deviceName extracts and percent-decodes the first segment of an escaped URL path.
// Any further segments are ignored, so "/Bedroom/extra" names "Bedroom".
func deviceName(escapedPath string) (string, error) {
	p := strings.TrimPrefix(escapedPath, "/")
	segment, _, _ := strings.Cut(p, "/")
	if segment == "" {
		return "", ErrNameMissing
	}
	name, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNameMissing, err)
	}
	if name == "" {
		return "", ErrNameMissing
	}
	return name, nil
}

// ResolveDevice finds the device named by the first segment of escapedPath.
// Names match exactly, including case.
func ResolveDevice(escapedPath string, cfg *config.Config) (config.Device, error) {
	name, err := deviceName(escapedPath)
	if err != nil {
		return config.Device{}, err
	}
	d, ok := cfg.Lookup(name)
	if !ok {
		return config.Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return d, nil
}
