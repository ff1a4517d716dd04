// Package scheduler owns "when is the next report due". It drives a
// once-per-second clock check, hands due triggers to a single worker, and
// keeps the high-water mark so restarts know which boundaries were already
// handled. It never renders or delivers anything itself.
package scheduler
