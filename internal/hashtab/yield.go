package hashtab

import "runtime"

// yield parks the spinning goroutine so lock holders can make
// progress even on single-CPU schedules.
func yield() {
	runtime.Gosched()
}
