package report

import "errors"

// Error kinds the pipeline distinguishes. Render and delivery errors are
// converted into run failure inside the Controller; none propagate into the
// scheduler's tick loop.
var (
	// ErrBrowserUnavailable means no headless browser binary is usable.
	// Fatal for rendered mode only; text-only runs are unaffected. Not
	// retried, since the capability won't appear between attempts.
	ErrBrowserUnavailable = errors.New("browser automation unavailable")

	// ErrRenderTimeout marks a render attempt that exceeded its budget.
	ErrRenderTimeout = errors.New("render timed out")

	// ErrRenderFailed marks any other render failure.
	ErrRenderFailed = errors.New("render failed")

	// ErrDeliveryFailed marks delivery that kept failing after a successful
	// render. The artifact path stays in the run record for inspection.
	ErrDeliveryFailed = errors.New("delivery failed")
)
