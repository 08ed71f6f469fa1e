//go:build !signalgraph_debug

package invariant

// Debug is true when built with the signalgraph_debug tag.
const Debug = false
