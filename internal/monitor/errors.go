package monitor

import "errors"

// Pipeline error taxonomy. Fetcher failures are contained at the fetcher
// boundary; persistence failures fail the batch; credential failures abort
// the whole run.
var (
	// ErrQuotaExceeded signals the rate limit guard denied a request. The
	// affected source or keyword is skipped this cycle and retried next cycle.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrSourceUnavailable signals a transport-level failure on one source.
	// Isolated to the failing fetcher; other sources proceed.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSelectorMismatch signals a scrape target rendered but none of the
	// configured selectors matched, i.e. the page structure drifted. Logged
	// separately so operators notice staleness.
	ErrSelectorMismatch = errors.New("selector mismatch")

	// ErrMisconfiguredCredential is fatal for the run; no retry without
	// operator intervention.
	ErrMisconfiguredCredential = errors.New("misconfigured credential")
)

// Recoverable reports whether an error may clear on its own next cycle.
func Recoverable(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrSelectorMismatch)
}
