//go:build debug

package debug

import "github.com/olalite/olad/cmn/nlog"

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		nlog.Fatalf("assertion failed: %v", args)
		panic("assertion failed")
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		nlog.Fatalf("assertion failed: "+format, args...)
		panic("assertion failed")
	}
}

func AssertNoErr(err error) {
	if err != nil {
		nlog.Fatalf("unexpected error: %v", err)
		panic(err)
	}
}

func Func(f func()) { f() }
