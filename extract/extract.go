// Package extract derives per-run metrics from the artifacts in a completed
// run directory.
//
// All functions are read-only: nothing in the source tree is modified.
package extract

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/layout"
	"github.com/c360/batchsync/metric"
)

const (
	// SentinelFile lists one ad file name per request that served no ad.
	SentinelFile = layout.SentinelFile

	// BotsInBatch is the fixed fleet size of every historical batch.
	BotsInBatch = 8

	// UnknownIP is reported when no external IP can be recovered.
	UnknownIP = "0.0.0.0"

	// NoTimestamp is reported when no request time can be recovered.
	NoTimestamp int64 = -1

	// TimestampScanDepth bounds how many trailing sentinel lines are tried.
	TimestampScanDepth = 10

	adFileSuffix   = ".xml"
	htmlFileSuffix = ".html"
)

// ipPattern matches the "ip" query parameter of the player URL embedded in a
// captured page, in raw, JSON-escaped and URL-encoded forms.
var ipPattern = regexp.MustCompile(`(?s)(?:\\u0026v|%26|%3F)ip(?:%3D|=)(.*?)(?:,|;|%26|\\u0026)`)

// RunMetrics bundles what a run directory yields.
type RunMetrics struct {
	AdsFound      int
	NonAdRequests int
	ExternalIP    string
	LastRequestAt int64
}

// TotalRequests is every request the batch made, with or without an ad.
func (m RunMetrics) TotalRequests() int {
	return m.AdsFound + m.NonAdRequests
}

// MissingSentinelError reports a run directory without its noAds.csv.
type MissingSentinelError struct {
	Dir string
	Err error
}

func (e *MissingSentinelError) Error() string {
	return fmt.Sprintf("%s missing in %s: %v", SentinelFile, e.Dir, e.Err)
}

// Unwrap exposes both errors.ErrMissingSentinel and the underlying I/O error.
func (e *MissingSentinelError) Unwrap() []error {
	return []error{errors.ErrMissingSentinel, e.Err}
}

// Extractor computes run metrics and reports recoverable anomalies as
// diagnostics on its logger.
type Extractor struct {
	logger  *slog.Logger
	metrics *metric.Metrics
}

// New creates an Extractor. A nil logger falls back to slog.Default; metrics
// may be nil.
func New(logger *slog.Logger, metrics *metric.Metrics) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, metrics: metrics}
}

// Extract computes every metric for dir.
func (x *Extractor) Extract(dir string) (RunMetrics, error) {
	ads, err := CountAdFiles(dir)
	if err != nil {
		return RunMetrics{}, err
	}
	nonAds, err := CountNonAdRequests(dir)
	if err != nil {
		return RunMetrics{}, err
	}
	ip, err := x.ExternalIP(dir)
	if err != nil {
		return RunMetrics{}, err
	}
	last, err := x.LastRequestTimestamp(dir)
	if err != nil {
		return RunMetrics{}, err
	}

	return RunMetrics{
		AdsFound:      ads,
		NonAdRequests: nonAds,
		ExternalIP:    ip,
		LastRequestAt: last,
	}, nil
}

// CountAdFiles counts the non-directory entries of dir ending in ".xml".
// Subdirectories are not searched.
func CountAdFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Extract", "CountAdFiles", "read run directory")
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), adFileSuffix) {
			count++
		}
	}
	return count, nil
}

// CountNonAdRequests returns the number of lines in dir's sentinel file. A
// final line without a newline still counts.
func CountNonAdRequests(dir string) (int, error) {
	f, err := openSentinel(dir)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	partial := false
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				count++
				partial = false
			} else {
				partial = true
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WrapInvalid(err, "Extract", "CountNonAdRequests", "read sentinel file")
		}
	}
	if partial {
		count++
	}
	return count, nil
}

// LastRequestTimestamp returns the AdSeenAt of the newest parseable entry
// among the last TimestampScanDepth lines of the sentinel file, or
// NoTimestamp when none parse. Each unparseable entry is logged as possible
// corruption.
func (x *Extractor) LastRequestTimestamp(dir string) (int64, error) {
	f, err := openSentinel(dir)
	if err != nil {
		return NoTimestamp, err
	}
	defer f.Close()

	tail, err := tailLines(f, TimestampScanDepth)
	if err != nil {
		return NoTimestamp, errors.WrapInvalid(err, "Extract", "LastRequestTimestamp", "read sentinel file")
	}

	for i := len(tail) - 1; i >= 0; i-- {
		adPath := filepath.Join(dir, tail[i])
		record, err := layout.ParseAdFileRecord(adPath)
		if err != nil {
			x.logger.Warn("Possible sentinel corruption, skipping entry",
				"path", adPath,
				"error", err)
			x.metrics.RecordTimestampCorruptLine()
			continue
		}
		return record.AdSeenAt, nil
	}
	return NoTimestamp, nil
}

// ExtractExternalIP returns the first "ip" parameter found in content, or
// UnknownIP. An empty value also yields UnknownIP: envelopes require a
// non-empty IP, and an empty one would make the cache line unreadable.
func ExtractExternalIP(content string) string {
	m := ipPattern.FindStringSubmatch(content)
	if m == nil || m[1] == "" {
		return UnknownIP
	}
	return m[1]
}

// ExternalIP recovers the IP the batch ran from out of the first captured
// player page in dir. Every failure degrades to UnknownIP with a diagnostic;
// the returned error is always nil unless dir itself is unreadable.
func (x *Extractor) ExternalIP(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return UnknownIP, errors.WrapInvalid(err, "Extract", "ExternalIP", "read run directory")
	}

	var page string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), htmlFileSuffix) {
			page = filepath.Join(dir, entry.Name())
			break
		}
	}
	if page == "" {
		x.logger.Warn("No player page in run, external IP unknown",
			"path", dir,
			"error", errors.ErrNoArtifact)
		x.metrics.RecordUnknownIP(metric.IPNoPage)
		return UnknownIP, nil
	}

	content, err := os.ReadFile(page)
	if err != nil {
		x.logger.Warn("Player page unreadable, external IP unknown",
			"path", page,
			"error", err)
		x.metrics.RecordUnknownIP(metric.IPPageUnreadable)
		return UnknownIP, nil
	}

	ip := ExtractExternalIP(string(content))
	if ip == UnknownIP {
		x.logger.Warn("No external IP in player page",
			"path", page)
		x.metrics.RecordUnknownIP(metric.IPNoMatch)
	}
	return ip, nil
}

func openSentinel(dir string) (*os.File, error) {
	f, err := os.Open(filepath.Join(dir, SentinelFile))
	if err != nil {
		return nil, &MissingSentinelError{Dir: dir, Err: err}
	}
	return f, nil
}

// tailLines returns up to n trailing lines of r with line terminators
// removed.
func tailLines(r io.Reader, n int) ([]string, error) {
	ring := make([]string, 0, n)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			if len(ring) == n {
				copy(ring, ring[1:])
				ring = ring[:n-1]
			}
			ring = append(ring, line)
		}
		if err == io.EOF {
			return ring, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
