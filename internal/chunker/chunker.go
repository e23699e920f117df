// Package chunker splits journal entry text into bounded, overlapping
// chunks sized for embedding.
package chunker

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/nidhogg/memoro/internal/journal"
)

const (
	// DefaultMaxChunkSize bounds chunk content length. A chunk may
	// exceed it only when it consists of a single sentence that is
	// itself longer than the bound; splitting never happens inside
	// a sentence.
	DefaultMaxChunkSize = 1000

	// LongEntryThreshold is the raw length beyond which SliceForEmbedding
	// offers a coarse segmentation, independent of structural chunks.
	LongEntryThreshold = 8000

	sliceOverlap = 100

	// Overlap carried into the next chunk on the whole-entry fallback
	// path: the last overlapWords words, or a third of the chunk's
	// words, whichever is smaller.
	overlapWords = 20
)

// Chunk is one embedding unit cut from an entry. Chunks are transient;
// they are never persisted.
type Chunk struct {
	ID        string
	Text      string
	Position  int
	Start     int // byte offset of the chunk's own span in the source
	End       int // offsets exclude any carried overlap prefix
	First     bool
	Last      bool
	Sentences int
	Date      time.Time
	Mood      journal.Mood
}

// Chunker splits entry text into chunks.
type Chunker struct {
	maxChunkSize int
}

// New creates a Chunker. A non-positive size falls back to the default.
func New(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{maxChunkSize: maxChunkSize}
}

// Split cuts entry text into ordered chunks. Paragraphs within the
// size bound become single chunks; oversized paragraphs are packed
// sentence by sentence. Entries with no blank-line structure go
// through a whole-entry fallback that carries word overlap between
// adjacent chunks.
func (c *Chunker) Split(text string, date time.Time, mood journal.Mood) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	paras := splitParagraphs(text)

	var chunks []Chunk
	if len(paras) > 1 {
		for _, p := range paras {
			chunks = append(chunks, c.chunkParagraph(text, p)...)
		}
	} else {
		// No blank-line boundaries anywhere: pack sentences over the
		// whole entry, seeding each chunk with overlap from the last.
		chunks = c.fallbackChunks(text, paras[0])
	}

	for i := range chunks {
		chunks[i].ID = uuid.New().String()
		chunks[i].Position = i
		chunks[i].First = i == 0
		chunks[i].Last = i == len(chunks)-1
		chunks[i].Date = date
		chunks[i].Mood = mood
	}
	return chunks
}

// SliceForEmbedding returns coarse overlapping slices for entries whose
// raw text exceeds LongEntryThreshold, so very long entries never blow
// the embedding input limit. Shorter text comes back as a single slice.
// This segmentation is independent of the structural chunks from Split.
func (c *Chunker) SliceForEmbedding(text string) []string {
	if len(text) <= LongEntryThreshold {
		return []string{text}
	}
	step := LongEntryThreshold - sliceOverlap
	var slices []string
	for start := 0; start < len(text); start += step {
		end := start + LongEntryThreshold
		if end >= len(text) {
			slices = append(slices, text[start:])
			break
		}
		slices = append(slices, text[start:end])
	}
	return slices
}

// span is a half-open [start, end) byte range in the source text.
type span struct {
	start, end int
}

// splitParagraphs finds paragraph spans separated by blank lines.
// Spans are trimmed of surrounding whitespace; empty spans are dropped.
// Non-blank input always yields at least one span.
func splitParagraphs(text string) []span {
	var paras []span
	start := 0
	i := 0
	for i < len(text) {
		if text[i] == '\n' {
			// A blank-line boundary is a newline followed, after
			// optional spaces/tabs, by another newline.
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
				j++
			}
			if j < len(text) && text[j] == '\n' {
				if s, ok := trimSpan(text, start, i); ok {
					paras = append(paras, s)
				}
				// Swallow the whole separator run.
				for j < len(text) && (text[j] == '\n' || text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
					j++
				}
				start = j
				i = j
				continue
			}
		}
		i++
	}
	if s, ok := trimSpan(text, start, len(text)); ok {
		paras = append(paras, s)
	}
	return paras
}

// trimSpan shrinks [start, end) to exclude surrounding whitespace.
func trimSpan(text string, start, end int) (span, bool) {
	for start < end && isSpaceByte(text[start]) {
		start++
	}
	for end > start && isSpaceByte(text[end-1]) {
		end--
	}
	if start >= end {
		return span{}, false
	}
	return span{start, end}, true
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// chunkParagraph emits one chunk for an in-bound paragraph, or packs
// its sentences greedily when it exceeds the size bound.
func (c *Chunker) chunkParagraph(text string, p span) []Chunk {
	content := text[p.start:p.end]
	if len(content) <= c.maxChunkSize {
		return []Chunk{{
			Text:      content,
			Start:     p.start,
			End:       p.end,
			Sentences: max(1, len(splitSentences(text, p))),
		}}
	}

	sentences := splitSentences(text, p)
	if len(sentences) == 0 {
		// A paragraph with no sentence terminators is emitted whole,
		// even oversized.
		return []Chunk{{Text: content, Start: p.start, End: p.end, Sentences: 1}}
	}

	var chunks []Chunk
	var cur []span
	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:      text[cur[0].start:cur[len(cur)-1].end],
			Start:     cur[0].start,
			End:       cur[len(cur)-1].end,
			Sentences: len(cur),
		})
		cur = nil
	}
	for _, s := range sentences {
		// The emitted chunk spans from the first sentence's start to the
		// last one's end, gaps included, so bound the span, not the sum
		// of sentence lengths.
		if len(cur) > 0 && s.end-cur[0].start > c.maxChunkSize {
			flush()
		}
		cur = append(cur, s)
	}
	flush()
	return chunks
}

// fallbackChunks packs sentences over the whole entry. When a chunk
// closes, the tail words of its text are carried forward as a prefix
// seed so adjacent chunks share context.
func (c *Chunker) fallbackChunks(text string, p span) []Chunk {
	sentences := splitSentences(text, p)
	if len(sentences) <= 1 {
		// Nothing to pack: one (possibly oversized) chunk.
		return []Chunk{{
			Text:      text[p.start:p.end],
			Start:     p.start,
			End:       p.end,
			Sentences: 1,
		}}
	}

	var chunks []Chunk
	var cur []span
	seed := ""
	flush := func() {
		if len(cur) == 0 {
			return
		}
		body := text[cur[0].start:cur[len(cur)-1].end]
		chunkText := body
		if seed != "" {
			chunkText = seed + " " + body
		}
		chunks = append(chunks, Chunk{
			Text:      chunkText,
			Start:     cur[0].start,
			End:       cur[len(cur)-1].end,
			Sentences: len(cur),
		})
		seed = tailWords(body, overlapWords)
		cur = nil
	}
	for _, s := range sentences {
		if len(cur) > 0 {
			// Bound what the chunk will actually hold: the seed prefix
			// with its joining space plus the full sentence span.
			projected := s.end - cur[0].start
			if seed != "" {
				projected += len(seed) + 1
			}
			if projected > c.maxChunkSize {
				flush()
			}
		}
		cur = append(cur, s)
	}
	flush()
	return chunks
}

// tailWords returns the last n words of text, capped at a third of the
// text's words.
func tailWords(text string, n int) string {
	words := strings.Fields(text)
	if third := len(words) / 3; third < n {
		n = third
	}
	if n <= 0 {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}

// splitSentences finds sentence spans within [p.start, p.end): runs
// ending with '.', '!' or '?' followed by whitespace (or the span end).
// Text with no terminators yields a single span.
func splitSentences(text string, p span) []span {
	var sentences []span
	start := p.start
	i := p.start
	for i < p.end {
		ch := text[i]
		if ch == '.' || ch == '!' || ch == '?' {
			// Swallow terminator runs like "?!" or "...".
			j := i + 1
			for j < p.end && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
				j++
			}
			if j >= p.end || unicode.IsSpace(rune(text[j])) {
				if s, ok := trimSpan(text, start, j); ok {
					sentences = append(sentences, s)
				}
				for j < p.end && isSpaceByte(text[j]) {
					j++
				}
				start = j
				i = j
				continue
			}
			i = j
			continue
		}
		i++
	}
	if s, ok := trimSpan(text, start, p.end); ok {
		sentences = append(sentences, s)
	}
	return sentences
}
