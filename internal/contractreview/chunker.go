package contractreview

import (
	"strings"
	"unicode/utf8"
)

// ChunkText splits text into contiguous windows of maxSize runes. Windows
// that are blank after trimming are dropped; the kept windows are returned
// untrimmed so their offsets still line up with the source. A non-positive
// maxSize yields the whole text as one window.
func ChunkText(text string, maxSize int) []Chunk {
	if text == "" {
		return []Chunk{}
	}
	if maxSize <= 0 {
		if strings.TrimSpace(text) == "" {
			return []Chunk{}
		}
		return []Chunk{{Index: 0, Offset: 0, Text: text}}
	}

	chunks := []Chunk{}
	start, runeOffset, count := 0, 0, 0
	for i := range text {
		if count == maxSize {
			chunks = appendChunk(chunks, text[start:i], runeOffset)
			start = i
			runeOffset += count
			count = 0
		}
		count++
	}
	return appendChunk(chunks, text[start:], runeOffset)
}

func appendChunk(chunks []Chunk, window string, offset int) []Chunk {
	if strings.TrimSpace(window) == "" {
		return chunks
	}
	return append(chunks, Chunk{Index: len(chunks), Offset: offset, Text: window})
}

// CleanText collapses whitespace runs to single spaces and trims the result.
func CleanText(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	return strings.Join(strings.Fields(text), " ")
}
