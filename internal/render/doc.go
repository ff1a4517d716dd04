// Package render produces report artifacts: a headless-browser screenshot of
// the dashboard with a metrics caption, or the plain-text summary alone. The
// text path has no browser dependency and is the documented fallback when no
// Chromium binary is available.
package render
