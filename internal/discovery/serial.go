package discovery

import (
	"fmt"
	"path/filepath"
	"sort"
)

// serialGlobs are the device-node patterns the source's serial scanner
// walks on Linux (ttyS for onboard UARTs, ttyUSB/ttyACM for adapters).
var serialGlobs = []string{"/dev/ttyS*", "/dev/ttyUSB*", "/dev/ttyACM*"}

// FindSerial globs the platform's serial device namespace and returns
// ASRL resource strings referencing each discovered path.
func FindSerial() ([]string, error) {
	var paths []string
	for _, pattern := range serialGlobs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, fmt.Sprintf("ASRL%s::INSTR", p))
	}
	return out, nil
}
