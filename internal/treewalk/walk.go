// Package treewalk implements the recursive Tree Visitor component (§4.2):
// a pre-order directory walker that tolerates and forwards per-entry I/O
// failures rather than aborting the whole walk.
package treewalk

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// OnDirectory is invoked for every directory encountered, including root
// itself, before any of its children are visited.
type OnDirectory func(path string, info os.FileInfo)

// OnFile is invoked for every non-directory entry encountered.
type OnFile func(path string, info os.FileInfo)

// OnError is invoked for a per-entry failure (e.g. a file that became
// unreadable between being listed and being stat'd). Returning an error from
// a custom walker wired through this hook would abort the walk; the default
// Walk function never does so — it always continues, per §4.2.
type OnError func(path string, err error)

// Visitor implements the pluggable Tree Visitor contract: Walk(root, onDir,
// onFile). The zero value is ready to use and silently discards per-entry
// errors; set OnError to observe them (e.g. to log or to collect
// non-readable subtrees) without changing the continue-on-error policy.
type Visitor struct {
	// OnError, if non-nil, is invoked for every per-entry failure encountered
	// during a walk. It does not affect whether the walk continues — it
	// always does.
	OnError OnError
}

// Walk performs a pre-order recursive walk of root, invoking onDir for every
// directory and onFile for every other entry. A failure to stat or read any
// individual entry is reported via v.OnError (if set) and the walk
// continues with the next entry; only a failure to read root itself (or an
// failure that filepath.Walk cannot route around) is returned as an error.
func (v Visitor) Walk(root string, onDir OnDirectory, onFile OnFile) error {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if v.OnError != nil {
				v.OnError(path, err)
			}
			if path == root {
				return err
			}
			// Skip this entry (and, if it was meant to be a directory,
			// everything beneath it) but keep walking the rest of the tree.
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if onDir != nil {
				onDir(path, info)
			}
		} else {
			if onFile != nil {
				onFile(path, info)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "unable to walk directory tree")
	}
	return nil
}

// Default is the zero-value Visitor, provided for callers that just want
// the default continue-on-error behavior without allocating their own.
var Default = Visitor{}
