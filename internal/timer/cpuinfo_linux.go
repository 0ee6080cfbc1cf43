//go:build linux

package timer

import (
	"github.com/prometheus/procfs"

	"github.com/behrlich/go-measure/internal/logging"
)

// checkInvariantTsc scans /proc/cpuinfo for the nonstop_tsc and
// constant_tsc flags. Relevant on x86 only; Fujitsu and Power systems
// are known to not provide this info, which is why a miss warns
// rather than aborts.
func checkInvariantTsc() bool {
	fs, err := procfs.NewFS("/proc")
	if err != nil {
		logging.Warnf("Cannot check for 'nonstop_tsc' and 'constant_tsc': %v. "+
			"Switch to a timer different from 'tsc' if you have issues with timings.", err)
		return false
	}
	infos, err := fs.CPUInfo()
	if err != nil {
		logging.Warnf("Error reading /proc/cpuinfo for timer consistency check: %v", err)
		return false
	}
	for _, info := range infos {
		nonstop, constant := false, false
		for _, flag := range info.Flags {
			switch flag {
			case "nonstop_tsc":
				nonstop = true
			case "constant_tsc":
				constant = true
			}
		}
		if nonstop && constant {
			return true
		}
	}
	return false
}
