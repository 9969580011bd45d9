package chunker

import (
	"regexp"
	"unicode/utf8"

	"autosurvey/internal/domain"
)

// SentenceChunker splits text into sentence-based chunks with overlap.
// Chunk boundaries always fall on sentence ends, so chunks keep the exact
// source text including whitespace.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?。！？]+[.!?。！？])`),
	}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	bounds := c.sentenceBounds(document.Content)
	if len(bounds) == 0 {
		return nil, nil
	}
	runes := []rune(document.Content)
	var chunks []domain.Chunk
	i := 0
	idx := 0
	for i < len(bounds) {
		end := i + c.sentencesPerChunk
		if end > len(bounds) {
			end = len(bounds)
		}
		start := 0
		if i > 0 {
			start = bounds[i-1]
		}
		chunks = append(chunks, newChunk(document.ID, idx, runes, start, bounds[end-1]))
		if end == len(bounds) {
			break
		}
		i = end - c.overlapSentences
		idx++
	}
	return chunks, nil
}

// sentenceBounds returns the rune offset at which each sentence ends. The
// last bound is always the text length.
func (c *SentenceChunker) sentenceBounds(text string) []int {
	if text == "" {
		return nil
	}
	var bounds []int
	for _, m := range c.splitter.FindAllStringIndex(text, -1) {
		bounds = append(bounds, utf8.RuneCountInString(text[:m[1]]))
	}
	total := utf8.RuneCountInString(text)
	if len(bounds) == 0 || bounds[len(bounds)-1] < total {
		bounds = append(bounds, total)
	}
	return bounds
}
