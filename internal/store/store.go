package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"autosurvey/internal/domain"
	"autosurvey/internal/logger"
)

var ErrNotFound = errors.New("record not found")

// Store is the SQLite persistence for documents, chunks, vectors and
// answering sessions.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open opens (creating if needed) the SQLite database at path and migrates it.
func Open(path string, log *logger.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on&_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDocument stores a document together with its chunks and their
// vectors in one transaction.
func (s *Store) CreateDocument(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors []domain.VectorEntry, embedder string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := documentRecord(doc)
		rec.TotalChunks = len(chunks)
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		if len(chunks) > 0 {
			rows := make([]ChunkRecord, len(chunks))
			for i, c := range chunks {
				rows[i] = chunkRecord(c)
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("create chunks: %w", err)
			}
		}
		return upsertVectors(tx, chunks, vectors, embedder)
	})
}

// ReplaceVectors overwrites the stored embeddings for the given chunks.
func (s *Store) ReplaceVectors(ctx context.Context, chunks []domain.Chunk, vectors []domain.VectorEntry, embedder string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertVectors(tx, chunks, vectors, embedder)
	})
}

func upsertVectors(tx *gorm.DB, chunks []domain.Chunk, vectors []domain.VectorEntry, embedder string) error {
	if len(vectors) == 0 {
		return nil
	}
	docByChunk := make(map[string]string, len(chunks))
	for _, c := range chunks {
		docByChunk[c.ID] = c.DocumentID
	}
	now := time.Now()
	rows := make([]VectorRecord, 0, len(vectors))
	for _, v := range vectors {
		docID, ok := docByChunk[v.ChunkID]
		if !ok {
			return fmt.Errorf("vector for unknown chunk %s", v.ChunkID)
		}
		rows = append(rows, VectorRecord{
			ChunkID:    v.ChunkID,
			DocumentID: docID,
			Embedder:   embedder,
			Dimension:  len(v.Embedding),
			Embedding:  EncodeVector(v.Embedding),
			UpdatedAt:  now,
		})
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chunk_id"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 200).Error
	if err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var rec DocumentRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, err
	}
	return rec.toDomain(), nil
}

// ListDocuments returns documents oldest first, without their content.
func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	var recs []DocumentRecord
	err := s.db.WithContext(ctx).
		Omit("content").
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Document, len(recs))
	for i, r := range recs {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var recs []ChunkRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, len(recs))
	for i, r := range recs {
		out[i] = r.toDomain()
	}
	return out, nil
}

// IndexedChunk is a chunk joined with its document title and stored vector.
// Embedding is nil when no vector was stored.
type IndexedChunk struct {
	Chunk         domain.Chunk
	DocumentTitle string
	Embedder      string
	Embedding     []float32
}

// IndexedChunks loads every chunk with its title and vector, ordered by
// document then chunk index.
func (s *Store) IndexedChunks(ctx context.Context) ([]IndexedChunk, error) {
	var rows []struct {
		ChunkRecord
		DocumentTitle string
		Embedder      *string
		Embedding     []byte
	}
	err := s.db.WithContext(ctx).
		Table("chunks").
		Select("chunks.*, documents.title AS document_title, vectors.embedder AS embedder, vectors.embedding AS embedding").
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Joins("LEFT JOIN vectors ON vectors.chunk_id = chunks.id").
		Order("documents.created_at ASC, chunks.document_id ASC, chunks.chunk_index ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]IndexedChunk, 0, len(rows))
	for _, r := range rows {
		ic := IndexedChunk{Chunk: r.ChunkRecord.toDomain(), DocumentTitle: r.DocumentTitle}
		if r.Embedder != nil {
			ic.Embedder = *r.Embedder
		}
		if len(r.Embedding) > 0 {
			vec, err := DecodeVector(r.Embedding)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
			}
			ic.Embedding = vec
		}
		out = append(out, ic)
	}
	return out, nil
}

// DeleteDocument removes a document with its chunks and vectors.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&VectorRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&ChunkRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&DocumentRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// SaveSession upserts a session and every answer it holds.
func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	questionnaire, err := json.Marshal(sess.Questionnaire)
	if err != nil {
		return err
	}
	stats := sess.Stats()
	rec := SessionRecord{
		ID:                sess.ID,
		URL:               sess.Questionnaire.URL,
		Title:             sess.Questionnaire.Title,
		Platform:          sess.Questionnaire.Platform,
		Mode:              sess.Mode.String(),
		Status:            sess.Status.String(),
		Visual:            sess.Visual,
		TotalQuestions:    stats.Total,
		Targeted:          stats.Targeted,
		Filled:            stats.Filled,
		Failed:            stats.Failed,
		AverageConfidence: stats.AverageConfidence,
		Error:             sess.Error,
		Questionnaire:     datatypes.JSON(questionnaire),
		StartedAt:         sess.StartedAt,
		FinishedAt:        sess.FinishedAt,
	}
	if sess.Submission != nil {
		rec.Submitted = sess.Submission.Success
		rec.SubmitMessage = sess.Submission.Message
	}
	answers := make([]AnswerRecord, 0, len(sess.Progress))
	for i, p := range sess.Progress {
		ar := AnswerRecord{
			SessionID:    sess.ID,
			QuestionID:   p.QuestionID,
			QuestionType: p.Type.String(),
			Position:     i,
			State:        p.State.String(),
			Status:       domain.StatusPending.String(),
			Error:        p.Error,
		}
		if a := p.Answer; a != nil {
			content, err := domain.MarshalContent(a.Content)
			if err != nil {
				return err
			}
			refs, err := json.Marshal(a.References)
			if err != nil {
				return err
			}
			ar.Status = a.Status.String()
			ar.Content = datatypes.JSON(content)
			ar.Confidence = a.Confidence
			ar.Reasoning = a.Reasoning
			ar.NeedsReview = a.NeedsReview
			ar.References = datatypes.JSON(refs)
		}
		answers = append(answers, ar)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		if len(answers) == 0 {
			return nil
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"question_type", "position", "state", "status", "content",
				"confidence", "reasoning", "needs_review", "knowledge_references", "error", "updated_at",
			}),
		}).Create(&answers).Error
		if err != nil {
			return fmt.Errorf("save answers: %w", err)
		}
		return nil
	})
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []SessionRecord
	err := s.db.WithContext(ctx).
		Omit("questionnaire").
		Order("started_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// SessionAnswers returns a session's answers in question order.
func (s *Store) SessionAnswers(ctx context.Context, sessionID string) ([]AnswerRecord, error) {
	var recs []AnswerRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&recs).Error
	return recs, err
}

func documentRecord(d domain.Document) DocumentRecord {
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return DocumentRecord{
		ID:          d.ID,
		Title:       d.Title,
		Filename:    d.Filename,
		FileType:    d.FileType,
		Content:     d.Content,
		TotalChunks: d.TotalChunks,
		CreatedAt:   created,
	}
}

func (r DocumentRecord) toDomain() domain.Document {
	return domain.Document{
		ID:          r.ID,
		Title:       r.Title,
		Filename:    r.Filename,
		FileType:    r.FileType,
		Content:     r.Content,
		TotalChunks: r.TotalChunks,
		CreatedAt:   r.CreatedAt,
	}
}

func chunkRecord(c domain.Chunk) ChunkRecord {
	return ChunkRecord{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		StartPos:   c.StartPos,
		EndPos:     c.EndPos,
	}
}

func (r ChunkRecord) toDomain() domain.Chunk {
	return domain.Chunk{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		ChunkIndex: r.ChunkIndex,
		Content:    r.Content,
		StartPos:   r.StartPos,
		EndPos:     r.EndPos,
	}
}

func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector blob: %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
