// Package layout decodes the naming convention of the legacy ad storage tree.
//
// A completed run lives at
//
//	<root>/<location>/<hostHostname>#<hostname>/<runId>/noAds.csv
//
// and every ad the fleet recorded is a file named
//
//	<botName>#<tryNum>#<adSeenAt>#<videoWatched>.<ext>
//
// Each convention has exactly one parse function here returning a structured
// record or a typed error that names the offending path.
package layout

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/c360/batchsync/errors"
)

// HostSeparator splits the host pair directory and the ad file name fields.
const HostSeparator = "#"

// adFileFields is the number of HostSeparator-delimited fields in an ad file stem.
const adFileFields = 4

// RunIdentity identifies one ad-bot run.
type RunIdentity struct {
	Location     string
	HostHostname string
	Hostname     string
	RunID        int
}

// AdFileRecord identifies one recorded ad-serving event.
type AdFileRecord struct {
	BotName      string
	TryNum       string
	AdSeenAt     int64
	VideoWatched string
}

// MalformedPathError reports a run directory that does not follow the
// location/hostHostname#hostname/runId convention.
type MalformedPathError struct {
	Path   string
	Reason string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("malformed run directory %s: %s", e.Path, e.Reason)
}

// Unwrap returns errors.ErrMalformedPath.
func (e *MalformedPathError) Unwrap() error {
	return errors.ErrMalformedPath
}

// MalformedFilenameError reports an ad file name whose stem is not four
// #-delimited fields with an integer timestamp.
type MalformedFilenameError struct {
	Path   string
	Reason string
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("malformed ad file name %s: %s", e.Path, e.Reason)
}

// Unwrap returns errors.ErrMalformedFilename.
func (e *MalformedFilenameError) Unwrap() error {
	return errors.ErrMalformedFilename
}

// ParseRunIdentity decodes the last three elements of a run directory path.
func ParseRunIdentity(path string) (RunIdentity, error) {
	clean := filepath.Clean(path)
	runDir := filepath.Base(clean)
	hostDir := filepath.Dir(clean)
	hostPair := filepath.Base(hostDir)
	location := filepath.Base(filepath.Dir(hostDir))

	runID, err := strconv.Atoi(strings.TrimSpace(runDir))
	if err != nil {
		return RunIdentity{}, &MalformedPathError{Path: path, Reason: fmt.Sprintf("run id %q is not an integer", runDir)}
	}

	parts := strings.Split(hostPair, HostSeparator)
	if len(parts) != 2 {
		return RunIdentity{}, &MalformedPathError{
			Path:   path,
			Reason: fmt.Sprintf("host directory %q must contain exactly one %q", hostPair, HostSeparator),
		}
	}
	if parts[0] == "" || parts[1] == "" {
		return RunIdentity{}, &MalformedPathError{Path: path, Reason: fmt.Sprintf("host directory %q has an empty host name", hostPair)}
	}

	if location == "" || location == "." || location == string(filepath.Separator) {
		return RunIdentity{}, &MalformedPathError{Path: path, Reason: "no location directory above the host directory"}
	}

	// Names end up in JSON, which would rewrite invalid bytes and change the
	// envelope ID between a live run and a cache reload.
	for _, name := range []string{location, parts[0], parts[1]} {
		if !utf8.ValidString(name) {
			return RunIdentity{}, &MalformedPathError{Path: path, Reason: fmt.Sprintf("name %q is not valid UTF-8", name)}
		}
	}

	return RunIdentity{
		Location:     location,
		HostHostname: parts[0],
		Hostname:     parts[1],
		RunID:        runID,
	}, nil
}

// ParseAdFileRecord decodes the stem of an ad file name. Only the base name
// of path is inspected; the file need not exist.
func ParseAdFileRecord(path string) (AdFileRecord, error) {
	stem := fileStem(path)

	fields := strings.Split(stem, HostSeparator)
	if len(fields) != adFileFields {
		return AdFileRecord{}, &MalformedFilenameError{
			Path:   path,
			Reason: fmt.Sprintf("expected %d %q-delimited fields, got %d", adFileFields, HostSeparator, len(fields)),
		}
	}

	seenAt, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return AdFileRecord{}, &MalformedFilenameError{Path: path, Reason: fmt.Sprintf("timestamp %q is not an integer", fields[2])}
	}

	return AdFileRecord{
		BotName:      fields[0],
		TryNum:       fields[1],
		AdSeenAt:     seenAt,
		VideoWatched: fields[3],
	}, nil
}

// fileStem returns the base name without its final extension. A name that
// is nothing but an extension (".hidden") is its own stem.
func fileStem(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		return base
	}
	return stem
}
