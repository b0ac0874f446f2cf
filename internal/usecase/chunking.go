package usecase

import (
	"strings"
	"unicode"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// chunkSeparators are tried in order when looking for a natural boundary near
// the end of a chunk window.
var chunkSeparators = []string{". ", ".\n", "\n\n", "\n", " "}

// ChunkText splits text into overlapping chunks of roughly size characters.
// Each chunk prefers to end at a natural boundary found in the second half of
// its window, so sentences survive chunking intact.
func ChunkText(text string, size, overlap int) []domain.DocumentChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []domain.DocumentChunk{{Index: 0, Text: text}}
	}

	var chunks []domain.DocumentChunk
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			if chunk := strings.TrimSpace(text[start:]); chunk != "" {
				chunks = append(chunks, domain.DocumentChunk{Index: len(chunks), Text: chunk})
			}
			break
		}

		window := text[start:end]
		for _, sep := range chunkSeparators {
			if last := strings.LastIndex(window, sep); last > size/2 {
				end = start + last + len(sep)
				break
			}
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, domain.DocumentChunk{Index: len(chunks), Text: chunk})
		}
		start = end - overlap
	}
	return chunks
}

// ChunkSentences splits text on sentence boundaries, packing sentences into
// chunks of at most maxChars. A single sentence longer than maxChars is split
// at word boundaries. Used for knowledge-base ingestion where the embedding
// model has a hard input limit.
func ChunkSentences(text string, maxChars int) []domain.DocumentChunk {
	var (
		chunks  []domain.DocumentChunk
		current string
	)
	flush := func() {
		if c := strings.TrimSpace(current); c != "" {
			chunks = append(chunks, domain.DocumentChunk{Index: len(chunks), Text: c})
		}
		current = ""
	}

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if len(sentence) > maxChars {
			flush()
			var wordChunk string
			for _, word := range strings.Fields(sentence) {
				if len(wordChunk)+len(word)+1 > maxChars {
					if wordChunk != "" {
						chunks = append(chunks, domain.DocumentChunk{Index: len(chunks), Text: wordChunk})
					}
					wordChunk = word
				} else if wordChunk == "" {
					wordChunk = word
				} else {
					wordChunk += " " + word
				}
			}
			current = wordChunk
			continue
		}

		if len(current)+len(sentence)+1 > maxChars {
			flush()
			current = sentence
		} else if current == "" {
			current = sentence
		} else {
			current += " " + sentence
		}
	}
	flush()
	return chunks
}

// splitSentences cuts text after sentence-ending punctuation followed by
// whitespace.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		if (runes[i] == '.' || runes[i] == '!' || runes[i] == '?') && unicode.IsSpace(runes[i+1]) {
			out = append(out, string(runes[start:i+1]))
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}
