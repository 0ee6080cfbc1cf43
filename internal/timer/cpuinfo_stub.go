//go:build !linux

package timer

// Without procfs there is nothing to check; report the flags as not
// confirmed so the caller warns.
func checkInvariantTsc() bool {
	return false
}
