// Package chunk splits long text into token-bounded, overlapping chunks for embedding.
// Splitting prefers paragraph boundaries, then sentence boundaries, then falls back
// to fixed-width character windows with guaranteed forward progress.
package chunk

import (
	"math"
	"regexp"
	"strings"
)

// CharsPerToken is the token estimation heuristic (~4 chars per token for English).
// Avoids pulling in a real tokenizer; the estimate only has to be stable, not exact.
const CharsPerToken = 4.0

// maxOverlapSegments bounds the overlap memory walked backward when seeding a new
// chunk. Segments older than this can never contribute to the overlap budget.
const maxOverlapSegments = 10

var (
	paragraphPattern = regexp.MustCompile(`\n\n+`)
	sentencePattern  = regexp.MustCompile(`([.!?])\s+`)
)

// Chunker splits text into chunks of at most Size estimated tokens, with up to
// Overlap tokens of shared content between adjacent chunks.
type Chunker struct {
	// Size is the maximum chunk size in estimated tokens.
	Size int

	// Overlap is the desired overlap between adjacent chunks in estimated tokens.
	Overlap int
}

// New creates a Chunker with the given size and overlap (both in estimated tokens).
func New(size, overlap int) *Chunker {
	return &Chunker{Size: size, Overlap: overlap}
}

// EstimateTokens estimates the token count of text using the chars-per-token heuristic.
func (c *Chunker) EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / CharsPerToken))
}

// NeedsChunking reports whether text exceeds the configured chunk size.
func (c *Chunker) NeedsChunking(text string) bool {
	return c.EstimateTokens(text) > c.Size
}

// Chunk splits text into ordered chunks. Text that fits in a single chunk is
// returned trimmed and unsplit. Empty or whitespace-only text yields no chunks.
func (c *Chunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if c.EstimateTokens(text) <= c.Size {
		return []string{strings.TrimSpace(text)}
	}

	chunks := c.assemble(paragraphPattern.Split(text, -1))
	if len(chunks) == 0 {
		chunks = c.assemble(splitSentences(text))
	}
	if len(chunks) == 0 {
		chunks = c.chunkByCharacters(text)
	}
	return chunks
}

// splitSentences splits text after sentence-ending punctuation followed by whitespace.
// The terminator stays attached to the preceding sentence.
func splitSentences(text string) []string {
	indexes := sentencePattern.FindAllStringSubmatchIndex(text, -1)
	if len(indexes) == 0 {
		return []string{text}
	}

	sentences := make([]string, 0, len(indexes)+1)
	start := 0
	for _, idx := range indexes {
		// idx[3] is the end of the punctuation group; keep it with the sentence.
		sentences = append(sentences, text[start:idx[3]])
		start = idx[1]
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}

// assemble accumulates segments into chunks of at most Size tokens. When a chunk
// fills up it is flushed, and the next chunk is seeded with the most recent segments
// (walked backward, original order preserved) up to the Overlap token budget.
// A single segment larger than Size bypasses assembly entirely: the current buffer
// is flushed, the segment goes through the character splitter, and no overlap
// carries across it.
func (c *Chunker) assemble(segments []string) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0
	var overlapBuffer []string

	for _, segment := range segments {
		trimmed := strings.TrimSpace(segment)
		if trimmed == "" {
			continue
		}

		segmentTokens := c.EstimateTokens(trimmed)

		if segmentTokens > c.Size {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
				currentTokens = 0
			}
			chunks = append(chunks, c.chunkByCharacters(trimmed)...)
			overlapBuffer = overlapBuffer[:0]
			continue
		}

		if currentTokens+segmentTokens > c.Size && current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))

			// Seed the next chunk with overlap drawn from the most recent
			// segments, newest first, keeping original order in the output.
			var overlap []string
			overlapTokens := 0
			for i := len(overlapBuffer) - 1; i >= 0 && overlapTokens < c.Overlap; i-- {
				tokens := c.EstimateTokens(overlapBuffer[i])
				if overlapTokens+tokens <= c.Overlap {
					overlap = append([]string{overlapBuffer[i]}, overlap...)
					overlapTokens += tokens
				}
			}

			current.Reset()
			for _, seg := range overlap {
				current.WriteString(seg)
				current.WriteString(" ")
			}
			currentTokens = overlapTokens
			overlapBuffer = overlapBuffer[:0]
		}

		if current.Len() > 0 && !strings.HasSuffix(current.String(), " ") {
			current.WriteString(" ")
		}
		current.WriteString(trimmed)
		currentTokens += segmentTokens
		overlapBuffer = append(overlapBuffer, trimmed)

		if len(overlapBuffer) > maxOverlapSegments {
			overlapBuffer = overlapBuffer[len(overlapBuffer)-maxOverlapSegments:]
		}
	}

	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// chunkByCharacters is the fixed-width fallback for text with no usable boundaries.
// The window end snaps back to the last whitespace when possible; the next window
// starts overlapChars before the end, clamped so every step advances by at least
// minAdvance characters. Terminates in at most ceil(len(text)/minAdvance) steps.
func (c *Chunker) chunkByCharacters(text string) []string {
	var chunks []string

	maxChars := int(float64(c.Size) * CharsPerToken)
	overlapChars := int(float64(c.Overlap) * CharsPerToken)
	minAdvance := maxChars - overlapChars
	if minAdvance < 1 {
		minAdvance = 1
	}

	start := 0
	for start < len(text) {
		end := start + maxChars
		if end > len(text) {
			end = len(text)
		}

		if end < len(text) {
			if lastSpace := strings.LastIndex(text[:end], " "); lastSpace > start {
				end = lastSpace
			}
		}

		if piece := strings.TrimSpace(text[start:end]); piece != "" {
			chunks = append(chunks, piece)
		}

		if end >= len(text) {
			break
		}

		next := end - overlapChars
		if next <= start {
			next = start + minAdvance
		}
		start = next
	}

	return chunks
}
