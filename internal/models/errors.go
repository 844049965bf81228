package models

import "errors"

// Fatal pipeline errors. Per-team faults are isolated inside the scraper and
// never surface as these; the CLI maps each sentinel to its exit code.
var (
	// ErrUnknownDivision is returned when a division key is not present in
	// the registry.
	ErrUnknownDivision = errors.New("unknown division")

	// ErrEmptyUpstream is returned when the roster scrape produced zero rows.
	ErrEmptyUpstream = errors.New("upstream returned no roster rows")

	// ErrThresholdExceeded is returned when the fraction of failed teams in a
	// match scrape exceeds the configured limit. Partial outputs are kept.
	ErrThresholdExceeded = errors.New("failed team fraction exceeds threshold")

	// ErrMalformedInput is returned when a local input file cannot be parsed.
	ErrMalformedInput = errors.New("malformed input file")
)
