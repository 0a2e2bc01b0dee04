// Package chunker splits extracted document text into overlapping,
// sentence-boundary-aware windows ready for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// MinChunkSize is the shortest chunk the splitter will emit on its own;
// shorter trailing remainders are folded into the previous chunk.
const MinChunkSize = 10

// breakWindow bounds how far back from a tentative chunk end the splitter
// will search for a natural break point.
const breakWindow = 200

// breakPoint is one candidate place to end a chunk, checked in priority
// order from the strongest (sentence-ending) to the weakest (any space).
type breakPoint struct {
	sep     string
	breakAt int // offset, relative to the match index, where the chunk should end
}

var breakPoints = []breakPoint{
	{". ", 2},
	{"! ", 2},
	{"? ", 2},
	{"\n\n", 2},
	{"\n", 1},
	{" ", 1},
}

// Split divides text into chunks of at most chunkSize characters (a final
// remainder shorter than MinChunkSize is appended to the previous chunk,
// which can then run up to MinChunkSize characters past it), preferring
// to end each chunk at a sentence or paragraph boundary found within the
// last breakWindow characters. Consecutive chunks overlap by up to overlap
// characters. It always terminates and, for non-empty input, always
// returns at least one non-empty chunk.
func Split(text string, chunkSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 1500
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	if n <= chunkSize {
		return []string{string(runes)}
	}

	minStep := chunkSize / 4
	if minStep < 50 {
		minStep = 50
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + chunkSize
		if end > n {
			end = n
		}
		if end < n {
			end = bestBreak(runes, start, end)
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= n {
			break
		}

		nextStart := end - overlap
		if nextStart < start+minStep {
			nextStart = start + minStep
		}
		start = nextStart
	}

	return mergeShortTail(chunks)
}

// bestBreak searches runes[searchFrom:end] backward for the highest-priority
// break point and returns the adjusted end offset, or the original end if
// none is found.
func bestBreak(runes []rune, start, end int) int {
	searchFrom := end - breakWindow
	if searchFrom < start {
		searchFrom = start
	}
	window := string(runes[searchFrom:end])

	for _, bp := range breakPoints {
		if idx := strings.LastIndex(window, bp.sep); idx >= 0 {
			// LastIndex returns a byte offset; convert back to runes before
			// adding to the rune-based window start.
			return searchFrom + utf8.RuneCountInString(window[:idx]) + bp.breakAt
		}
	}
	return end
}

// mergeShortTail folds a final chunk shorter than MinChunkSize into its
// predecessor, so every returned chunk meets the minimum length invariant.
func mergeShortTail(chunks []string) []string {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if len([]rune(last)) >= MinChunkSize {
		return chunks
	}
	merged := make([]string, len(chunks)-1)
	copy(merged, chunks[:len(chunks)-2])
	merged[len(merged)-1] = strings.TrimSpace(chunks[len(chunks)-2] + " " + last)
	return merged
}
