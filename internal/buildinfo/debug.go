// Package buildinfo holds process-wide build/runtime flags, adapted from the
// teacher's pkg/mutagen/debug.go.
package buildinfo

import "os"

// DebugEnabled controls whether verbose internal diagnostics are enabled. It
// is set once at process startup from the HASHWATCH_DEBUG environment
// variable and is not expected to change afterward.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("HASHWATCH_DEBUG") == "1"
}
