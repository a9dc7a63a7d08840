package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/claritylabs/claritycounsel/internal/model"
)

type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func scanDocument(scanner interface{ Scan(...any) error }) (*model.Document, error) {
	var d model.Document
	var storageKey sql.NullString
	err := scanner.Scan(&d.ID, &d.UserID, &d.Title, &d.FileName, &d.Content, &storageKey, &d.UploadedAt)
	if err != nil {
		return nil, err
	}
	if storageKey.Valid {
		d.StorageKey = &storageKey.String
	}
	return &d, nil
}

const documentCols = `id, user_id, title, file_name, content, storage_key, uploaded_at`

func (s *DocumentStore) Create(userID int64, title, fileName, content string) (*model.Document, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO documents (id, user_id, title, file_name, content) VALUES (?, ?, ?, ?, ?)`,
		id, userID, title, fileName, content,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return s.GetByID(id)
}

func (s *DocumentStore) GetByID(id string) (*model.Document, error) {
	row := s.db.QueryRow(`SELECT `+documentCols+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *DocumentStore) ListByUserID(userID int64) ([]*model.Document, error) {
	rows, err := s.db.Query(
		`SELECT `+documentCols+` FROM documents WHERE user_id = ? ORDER BY uploaded_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *DocumentStore) UpdateStorageKey(id, storageKey string) error {
	_, err := s.db.Exec(`UPDATE documents SET storage_key = ? WHERE id = ?`, storageKey, id)
	if err != nil {
		return fmt.Errorf("update storage key: %w", err)
	}
	return nil
}

func (s *DocumentStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// CreateSimplification stores the AI-simplified rendition of a document.
func (s *DocumentStore) CreateSimplification(documentID, simplifiedContent string) (*model.Simplification, error) {
	result, err := s.db.Exec(
		`INSERT INTO simplifications (document_id, simplified_content) VALUES (?, ?)`,
		documentID, simplifiedContent,
	)
	if err != nil {
		return nil, fmt.Errorf("insert simplification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(
		`SELECT id, document_id, simplified_content, created_at FROM simplifications WHERE id = ?`, id,
	)
	var sim model.Simplification
	if err := row.Scan(&sim.ID, &sim.DocumentID, &sim.SimplifiedContent, &sim.CreatedAt); err != nil {
		return nil, fmt.Errorf("get simplification: %w", err)
	}
	return &sim, nil
}

// GetSimplification returns the most recent simplification for a document,
// or nil if the document has never been simplified.
func (s *DocumentStore) GetSimplification(documentID string) (*model.Simplification, error) {
	row := s.db.QueryRow(
		`SELECT id, document_id, simplified_content, created_at FROM simplifications
		 WHERE document_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		documentID,
	)
	var sim model.Simplification
	err := row.Scan(&sim.ID, &sim.DocumentID, &sim.SimplifiedContent, &sim.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get simplification: %w", err)
	}
	return &sim, nil
}
