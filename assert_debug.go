//go:build bufallocdebug

package bufalloc

import "fmt"

func debugAssert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("bufalloc: assertion failed: "+format, args...))
	}
}
