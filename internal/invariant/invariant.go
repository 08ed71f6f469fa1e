// Package invariant reports violated engine invariants.
//
// In builds with the signalgraph_debug tag a violation panics. Otherwise it
// is logged and the caller is expected to clamp or ignore the offending
// operation, keeping row indices consistent.
package invariant

import (
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("signalgraph.invariant")

// Check returns cond. When cond is false the violation is reported, which
// panics in debug builds.
func Check(cond bool, format string, args ...interface{}) bool {
	if cond {
		return true
	}
	msg := fmt.Sprintf(format, args...)
	if Debug {
		panic("invariant violated: " + msg)
	}
	log.Errorf("invariant violated: %s", msg)
	return false
}
