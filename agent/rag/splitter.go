package rag

import "strings"

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// splitSeparators are tried in order: paragraph breaks first, then line
// breaks, sentences, words, and finally raw characters.
var splitSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into chunks of at most ChunkSize characters, with
// ChunkOverlap characters carried between adjacent chunks so sentences
// straddling a boundary stay retrievable.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 5
		}
	}
	return Splitter{ChunkSize: size, ChunkOverlap: overlap}
}

// Split returns the chunks of text, each no longer than ChunkSize.
// Whitespace-only chunks are dropped.
func (s Splitter) Split(text string) []string {
	pieces := s.split(text, splitSeparators)
	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) != "" {
			out = append(out, piece)
		}
	}
	return out
}

func (s Splitter) split(text string, separators []string) []string {
	if len(text) <= s.ChunkSize {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	if len(separators) == 0 {
		return s.hardSplit(text)
	}

	sep := separators[0]
	if sep == "" {
		return s.hardSplit(text)
	}

	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		// Separator absent; fall through to the next, finer one.
		return s.split(text, separators[1:])
	}

	var chunks []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunk := current.String()
		chunks = append(chunks, chunk)
		current.Reset()
		if s.ChunkOverlap > 0 && len(chunk) > s.ChunkOverlap {
			current.WriteString(chunk[len(chunk)-s.ChunkOverlap:])
		}
	}

	for _, part := range parts {
		piece := part
		if piece != "" && !strings.HasSuffix(piece, sep) {
			piece += sep
		}
		if len(piece) > s.ChunkSize {
			// A single piece too big for one chunk: flush what we have
			// and recurse with the finer separators.
			flush()
			current.Reset()
			chunks = append(chunks, s.split(part, separators[1:])...)
			continue
		}
		if current.Len()+len(piece) > s.ChunkSize {
			flush()
		}
		current.WriteString(piece)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// hardSplit cuts on raw character offsets with overlap. Last resort when
// no separator keeps the pieces under the limit.
func (s Splitter) hardSplit(text string) []string {
	step := s.ChunkSize - s.ChunkOverlap
	if step <= 0 {
		step = s.ChunkSize
	}
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + s.ChunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}
	return chunks
}
