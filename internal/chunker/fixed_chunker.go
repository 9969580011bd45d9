package chunker

import (
	"fmt"

	"autosurvey/internal/domain"
)

// FixedChunker splits text into windows of Size runes where consecutive
// windows share exactly Overlap runes.
type FixedChunker struct {
	size    int
	overlap int
}

func NewFixedChunker(size, overlap int) *FixedChunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &FixedChunker{size: size, overlap: overlap}
}

func (c *FixedChunker) Size() int    { return c.size }
func (c *FixedChunker) Overlap() int { return c.overlap }

func (c *FixedChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	runes := []rune(document.Content)
	if len(runes) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	start := 0
	for idx := 0; ; idx++ {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, newChunk(document.ID, idx, runes, start, end))
		if end == len(runes) {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

func newChunk(documentID string, idx int, runes []rune, start, end int) domain.Chunk {
	return domain.Chunk{
		ID:         fmt.Sprintf("%s:%d", documentID, idx),
		DocumentID: documentID,
		ChunkIndex: idx,
		Content:    string(runes[start:end]),
		StartPos:   start,
		EndPos:     end,
	}
}

// Reassemble joins chunks back into the source text by dropping the
// overlapping prefix of every chunk after the first.
func Reassemble(chunks []domain.Chunk) string {
	var out []rune
	covered := 0
	for _, ch := range chunks {
		r := []rune(ch.Content)
		skip := covered - ch.StartPos
		if skip < 0 {
			skip = 0
		}
		if skip < len(r) {
			out = append(out, r[skip:]...)
		}
		if ch.EndPos > covered {
			covered = ch.EndPos
		}
	}
	return string(out)
}
