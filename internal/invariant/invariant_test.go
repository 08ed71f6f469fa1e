package invariant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	assert.True(t, Check(true, "never reported"))

	if Debug {
		assert.Panics(t, func() { Check(false, "count %d", -1) })
	} else {
		assert.False(t, Check(false, "count %d", -1))
	}
}
