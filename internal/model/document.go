package model

import "time"

type Document struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Title      string    `json:"title"`
	FileName   string    `json:"file_name"`
	Content    string    `json:"content"`
	StorageKey *string   `json:"storage_key,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Simplification struct {
	ID                int64     `json:"id"`
	DocumentID        string    `json:"document_id"`
	SimplifiedContent string    `json:"simplified_content"`
	CreatedAt         time.Time `json:"created_at"`
}
