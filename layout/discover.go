package layout

import (
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/batchsync/errors"
)

// SentinelFile marks a run directory as completed.
const SentinelFile = "noAds.csv"

// DiscoverRuns lazily yields every directory exactly three levels below root
// that contains a SentinelFile, in lexical order at each level. Entries whose
// names start with a dot are ignored at every level, as a shell glob would.
//
// An unreadable root is yielded as a fatal error and ends the sequence. An
// unreadable directory deeper in the tree is yielded as an invalid error and
// discovery continues with its siblings.
func DiscoverRuns(root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		locations, err := os.ReadDir(root)
		if err != nil {
			yield("", errors.WrapFatal(err, "Layout", "DiscoverRuns", "read source root"))
			return
		}

		for _, loc := range locations {
			locPath := filepath.Join(root, loc.Name())
			if isHidden(loc) || !isDir(locPath, loc) {
				continue
			}
			hosts, err := os.ReadDir(locPath)
			if err != nil {
				if !yield("", errors.WrapInvalid(err, "Layout", "DiscoverRuns", "read location directory")) {
					return
				}
				continue
			}

			for _, host := range hosts {
				hostPath := filepath.Join(locPath, host.Name())
				if isHidden(host) || !isDir(hostPath, host) {
					continue
				}
				runs, err := os.ReadDir(hostPath)
				if err != nil {
					if !yield("", errors.WrapInvalid(err, "Layout", "DiscoverRuns", "read host directory")) {
						return
					}
					continue
				}

				for _, run := range runs {
					runPath := filepath.Join(hostPath, run.Name())
					if isHidden(run) || !isDir(runPath, run) || !hasSentinel(runPath) {
						continue
					}
					if !yield(runPath, nil) {
						return
					}
				}
			}
		}
	}
}

func isHidden(entry fs.DirEntry) bool {
	return strings.HasPrefix(entry.Name(), ".")
}

// isDir follows symlinks the way a shell glob does.
func isDir(path string, entry fs.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func hasSentinel(runPath string) bool {
	info, err := os.Stat(filepath.Join(runPath, SentinelFile))
	return err == nil && !info.IsDir()
}
