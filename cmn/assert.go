package cmn

import "fmt"

// Assert panics with msg when cond is false. Reserved for invariant
// violations (programmer errors), never for expected failure paths such
// as network errors or missing files — those return an error instead.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}
