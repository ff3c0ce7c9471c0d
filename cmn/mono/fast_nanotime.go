//go:build mono

package mono

import (
	_ "unsafe" // for go:linkname
)

// runtimeNanotime links directly against the runtime's monotonic counter,
// avoiding the time.Time allocation time.Now() performs. Opt in with
// `-tags mono` on platforms where that allocation is measurable (the E1.31
// receive path and the merge engine call NanoTime on every frame).
//
//go:linkname runtimeNanotime runtime.nanotime
func runtimeNanotime() int64

func init() { NanoTime = runtimeNanotime }
