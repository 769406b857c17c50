//go:build !bufallocdebug

package bufalloc

func debugAssert(bool, string, ...any) {}
