package discovery

import (
	"context"

	"github.com/rjboer/openvisa/internal/logging"
)

// FindResources is the single entry point every FindRsrc-equivalent
// operation routes through: it merges mDNS network discovery, USB
// enumeration, and serial port scanning into one deduplicated, capped,
// glob-filtered list. original_source/src/core/session.c's own viFindRsrc
// is a dead stub (confirmed by its TODO comment); the real search logic
// lives in discovery.c, which this package reimplements.
func FindResources(ctx context.Context, expr string, logger logging.Logger) ([]string, error) {
	if logger == nil {
		logger = logging.Default()
	}

	seen := make(map[string]struct{})
	var out []string

	add := func(candidates []string) {
		for _, c := range candidates {
			if len(out) >= MaxResults {
				return
			}
			if _, dup := seen[c]; dup {
				continue
			}
			if expr != "" && !MatchGlob(expr, c) {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}

	netResults, err := FindNetwork(ctx, logger)
	if err != nil {
		logger.Warn("discovery: network scan failed", logging.Field{Key: "error", Value: err})
	} else {
		rsrcs := make([]string, 0, len(netResults))
		for _, r := range netResults {
			rsrcs = append(rsrcs, r.ResourceString)
		}
		add(rsrcs)
	}

	if usbResults, err := FindUSB(); err != nil {
		logger.Warn("discovery: usb scan failed", logging.Field{Key: "error", Value: err})
	} else {
		add(usbResults)
	}

	if serialResults, err := FindSerial(); err != nil {
		logger.Warn("discovery: serial scan failed", logging.Field{Key: "error", Value: err})
	} else {
		add(serialResults)
	}

	return out, nil
}
