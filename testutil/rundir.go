package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/c360/batchsync/layout"
)

// PlayerPage returns captured page content embedding ip the way the player
// URL does.
func PlayerPage(ip string) string {
	return fmt.Sprintf(`<html><script>var cfg = {"url":"https://video.example/videoplayback?expire=1%%26ip=%s%%26id=o-A"};</script></html>`, ip)
}

// AdFileName builds "<bot>#<try>#<seenAt>#<watched>.xml".
func AdFileName(bot string, try int, seenAt int64, watched string) string {
	return strings.Join([]string{bot, strconv.Itoa(try), strconv.FormatInt(seenAt, 10), watched}, layout.HostSeparator) + ".xml"
}

// Run describes one run directory to materialize on disk.
type Run struct {
	Location     string
	HostHostname string
	Hostname     string
	RunID        int

	// AdFiles are created empty in the run directory.
	AdFiles []string
	// NonAds are written one per line to the sentinel file.
	NonAds []string
	// Pages maps file names to content; used for *.html captures.
	Pages map[string]string
	// NoSentinel leaves the sentinel file out (an in-progress run).
	NoSentinel bool
}

// Dir returns the path r occupies below root.
func (r Run) Dir(root string) string {
	return filepath.Join(root, r.Location, r.HostHostname+layout.HostSeparator+r.Hostname, strconv.Itoa(r.RunID))
}

// WriteRun materializes r below root and returns the run directory.
func WriteRun(t testing.TB, root string, r Run) string {
	t.Helper()

	dir := r.Dir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create run dir: %v", err)
	}

	for _, name := range r.AdFiles {
		writeFile(t, filepath.Join(dir, name), "")
	}
	for name, content := range r.Pages {
		writeFile(t, filepath.Join(dir, name), content)
	}
	if !r.NoSentinel {
		content := ""
		if len(r.NonAds) > 0 {
			content = strings.Join(r.NonAds, "\n") + "\n"
		}
		writeFile(t, filepath.Join(dir, layout.SentinelFile), content)
	}
	return dir
}

// SampleRun is a complete run with two ads, three non-ad requests and a
// player page carrying 203.0.113.7. The newest non-ad request is at
// 1600000300.
func SampleRun(location, hostHostname, hostname string, runID int) Run {
	return Run{
		Location:     location,
		HostHostname: hostHostname,
		Hostname:     hostname,
		RunID:        runID,
		AdFiles: []string{
			AdFileName(hostname, 1, 1600000050, "yes"),
			AdFileName(hostname, 2, 1600000150, "no"),
		},
		NonAds: []string{
			AdFileName(hostname, 3, 1600000100, "no"),
			AdFileName(hostname, 4, 1600000200, "no"),
			AdFileName(hostname, 5, 1600000300, "no"),
		},
		Pages: map[string]string{
			"player.html": PlayerPage("203.0.113.7"),
		},
	}
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
