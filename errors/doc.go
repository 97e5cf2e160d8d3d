// Package errors provides standardized error handling for batchsync.
//
// # Classification
//
// Every error is one of three classes:
//
//   - Transient: the NATS server is slow, reconnecting, or briefly unreachable.
//     Only the publish sink retries these.
//   - Invalid: a piece of source data does not follow the storage naming
//     convention. The affected run (or timestamp candidate line) is skipped
//     and a diagnostic is logged.
//   - Fatal: configuration is unusable or the event cache is corrupt. The
//     whole invocation stops.
//
// # Sentinels
//
// The source tree sentinels map onto the recovery rules of the pipeline:
//
//	ErrMalformedPath      run directory name or host pair unparseable  -> skip run
//	ErrMalformedFilename  ad file stem unparseable                     -> skip line
//	ErrMissingSentinel    noAds.csv vanished after discovery           -> skip run
//	ErrNoArtifact         no *.html player file                        -> unknown IP
//	ErrCacheCorrupted     cache line does not decode                   -> abort reload
//
// Typed errors in the layout, extract and cache packages carry the offending
// path and unwrap to these sentinels, so callers test with errors.Is.
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: %w":
//
//	return errors.Wrap(err, "Cache", "ReadAll", "open cache file")
//	return errors.WrapTransient(err, "NATSSink", "Publish", "jetstream publish")
//
// Classification survives wrapping chains because IsTransient, IsFatal and
// IsInvalid use errors.As and errors.Is.
package errors
