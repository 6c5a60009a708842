//go:build !linux && !darwin

package sensor

// IsForeground always reports true where job control is not available.
func IsForeground() bool {
	return true
}
