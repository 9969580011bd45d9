package store

import (
	"time"

	"gorm.io/datatypes"
)

type DocumentRecord struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Filename    string    `gorm:"column:filename" json:"filename"`
	FileType    string    `gorm:"column:file_type" json:"file_type"`
	Content     string    `gorm:"column:content" json:"content"`
	TotalChunks int       `gorm:"column:total_chunks;not null;default:0" json:"total_chunks"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
}

func (DocumentRecord) TableName() string { return "documents" }

type ChunkRecord struct {
	ID         string `gorm:"primaryKey" json:"id"`
	DocumentID string `gorm:"column:document_id;not null;index:idx_chunk_doc_index,priority:1" json:"document_id"`
	ChunkIndex int    `gorm:"column:chunk_index;not null;index:idx_chunk_doc_index,priority:2" json:"chunk_index"`
	Content    string `gorm:"column:content" json:"content"`
	StartPos   int    `gorm:"column:start_pos" json:"start_pos"`
	EndPos     int    `gorm:"column:end_pos" json:"end_pos"`
}

func (ChunkRecord) TableName() string { return "chunks" }

// VectorRecord stores an embedding as little-endian float32 bytes.
type VectorRecord struct {
	ChunkID    string    `gorm:"primaryKey" json:"chunk_id"`
	DocumentID string    `gorm:"column:document_id;not null;index" json:"document_id"`
	Embedder   string    `gorm:"column:embedder;not null" json:"embedder"`
	Dimension  int       `gorm:"column:dimension;not null" json:"dimension"`
	Embedding  []byte    `gorm:"column:embedding" json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (VectorRecord) TableName() string { return "vectors" }

type SessionRecord struct {
	ID                string         `gorm:"primaryKey" json:"id"`
	URL               string         `gorm:"column:url;not null" json:"url"`
	Title             string         `gorm:"column:title" json:"title"`
	Platform          string         `gorm:"column:platform" json:"platform"`
	Mode              string         `gorm:"column:mode;not null" json:"mode"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	Visual            bool           `gorm:"column:visual" json:"visual"`
	TotalQuestions    int            `gorm:"column:total_questions" json:"total_questions"`
	Targeted          int            `gorm:"column:targeted" json:"targeted"`
	Filled            int            `gorm:"column:filled" json:"filled"`
	Failed            int            `gorm:"column:failed" json:"failed"`
	AverageConfidence *float64       `gorm:"column:average_confidence" json:"average_confidence,omitempty"`
	Submitted         bool           `gorm:"column:submitted" json:"submitted"`
	SubmitMessage     string         `gorm:"column:submit_message" json:"submit_message"`
	Error             string         `gorm:"column:error" json:"error"`
	Questionnaire     datatypes.JSON `gorm:"column:questionnaire" json:"questionnaire"`
	StartedAt         time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt        *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (SessionRecord) TableName() string { return "sessions" }

type AnswerRecord struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string         `gorm:"column:session_id;not null;uniqueIndex:idx_answer_session_question,priority:1" json:"session_id"`
	QuestionID   string         `gorm:"column:question_id;not null;uniqueIndex:idx_answer_session_question,priority:2" json:"question_id"`
	QuestionType string         `gorm:"column:question_type" json:"question_type"`
	Position     int            `gorm:"column:position" json:"position"`
	State        string         `gorm:"column:state" json:"state"`
	Status       string         `gorm:"column:status" json:"status"`
	Content      datatypes.JSON `gorm:"column:content" json:"content"`
	Confidence   *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
	Reasoning    string         `gorm:"column:reasoning" json:"reasoning"`
	NeedsReview  bool           `gorm:"column:needs_review" json:"needs_review"`
	References   datatypes.JSON `gorm:"column:knowledge_references" json:"knowledge_references"`
	Error        string         `gorm:"column:error" json:"error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (AnswerRecord) TableName() string { return "answers" }

func allModels() []any {
	return []any{&DocumentRecord{}, &ChunkRecord{}, &VectorRecord{}, &SessionRecord{}, &AnswerRecord{}}
}
