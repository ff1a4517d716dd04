package telegram

import "strings"

// breakAt returns the index right after the last newline in rs[start:end),
// or -1 when none is worth using: a cut closer than min to the start would
// produce wastefully small chunks.
func breakAt(rs []rune, start, end, min int) int {
	for i := end - 1; i >= start+min; i-- {
		if rs[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

// openTag returns the index of a '<' with no matching '>' before end, or -1.
// Splitting there would tear an HTML tag across messages.
func openTag(rs []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		switch rs[i] {
		case '>':
			return -1
		case '<':
			return i
		}
	}
	return -1
}

// cutPoint picks where a chunk starting at start should end: at a newline in
// the last two thirds of the window when one exists, and never inside an
// HTML tag (all report messages use HTML parse mode). Rune indices.
func cutPoint(rs []rune, start, limit int) int {
	end := start + limit
	if end >= len(rs) {
		return len(rs)
	}
	if nl := breakAt(rs, start, end, limit/3); nl >= 0 {
		end = nl
	}
	// The +1 guard keeps the loop progressing when a single tag exceeds the
	// whole window.
	if open := openTag(rs, start, end); open > start+1 {
		end = open
	}
	return end
}

// splitText splits a message into chunks of at most limit runes. Chunks are
// trimmed of edge newlines and never empty; an empty or whitespace-only
// input yields no chunks.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := cutPoint(rs, start, limit)
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// splitCaption fits s into a photo caption. Captions within the limit pass
// through untouched. Longer ones are cut at a line boundary, marked with an
// ellipsis, and the caller sends the untruncated text as overflow.
func splitCaption(s string, limit int) (caption, overflow string) {
	if limit <= 0 {
		limit = captionLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s, ""
	}
	end := cutPoint(rs, 0, limit-1) // reserve a rune for the ellipsis
	caption = strings.TrimRight(string(rs[:end]), "\n") + "…"
	return caption, s
}
