//go:build !linux

package discovery

// FindUSB is unsupported outside Linux: the enumerator reads sysfs, which
// has no portable equivalent in scope.
func FindUSB() ([]string, error) {
	return nil, nil
}
