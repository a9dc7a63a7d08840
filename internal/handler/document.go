package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/claritylabs/claritycounsel/internal/auth"
	"github.com/claritylabs/claritycounsel/internal/blob"
	"github.com/claritylabs/claritycounsel/internal/model"
	"github.com/claritylabs/claritycounsel/internal/parser"
	"github.com/claritylabs/claritycounsel/internal/store"
	"github.com/claritylabs/claritycounsel/internal/usage"
)

const maxUploadBytes = 10 << 20 // 10 MiB

// Simplifier is the AI engine contract: opaque text in, simplified text out.
type Simplifier interface {
	Simplify(ctx context.Context, text string) (string, error)
}

type DocumentHandler struct {
	documentStore *store.DocumentStore
	blobStore     *blob.Store
	gate          *usage.Gate
	simplifier    Simplifier
	logger        *slog.Logger
}

func NewDocumentHandler(ds *store.DocumentStore, bs *blob.Store, gate *usage.Gate, simplifier Simplifier, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentStore: ds,
		blobStore:     bs,
		gate:          gate,
		simplifier:    simplifier,
		logger:        logger,
	}
}

// Upload accepts a multipart PDF/DOCX/TXT file, extracts its text, and
// stores the document. The original bytes are archived to blob storage when
// configured; archive failures are logged, not fatal.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or malformed upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}

	content, err := parser.Parse(header.Filename, data)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedType) || errors.Is(err, parser.ErrInvalidFile) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("parse upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process file")
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = header.Filename
	}

	doc, err := h.documentStore.Create(userID, title, header.Filename, content)
	if err != nil {
		h.logger.Error("create document", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if h.blobStore.Enabled() {
		key, err := h.blobStore.Put(r.Context(), userID, doc.ID, header.Filename, data)
		if err != nil {
			h.logger.Error("archive upload", "error", err, "document_id", doc.ID)
		} else if err := h.documentStore.UpdateStorageKey(doc.ID, key); err != nil {
			h.logger.Error("record storage key", "error", err, "document_id", doc.ID)
		} else {
			doc.StorageKey = &key
		}
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.documentStore.ListByUserID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list documents", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	sim, err := h.documentStore.GetSimplification(doc.ID)
	if err != nil {
		h.logger.Error("get simplification", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document":       doc,
		"simplification": sim,
	})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	if err := h.documentStore.Delete(doc.ID); err != nil {
		h.logger.Error("delete document", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if h.blobStore.Enabled() && doc.StorageKey != nil {
		if err := h.blobStore.Delete(r.Context(), *doc.StorageKey); err != nil {
			h.logger.Error("delete archived upload", "error", err, "document_id", doc.ID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Simplify is the metered operation. Repeat requests for an
// already-simplified document return the stored rendition without spending
// quota. Otherwise the usage gate must grant a unit before the engine runs;
// if the engine then fails, the unit stays consumed.
func (h *DocumentHandler) Simplify(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}

	existing, err := h.documentStore.GetSimplification(doc.ID)
	if err != nil {
		h.logger.Error("get simplification", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"simplified_content": existing.SimplifiedContent,
			"already_simplified": true,
		})
		return
	}

	usesLeft, err := h.gate.Consume(userID)
	switch {
	case errors.Is(err, store.ErrNoSubscription):
		writeError(w, http.StatusNotFound, "no plan selected")
		return
	case errors.Is(err, store.ErrQuotaExhausted):
		writeError(w, http.StatusForbidden, "no uses left in current billing period")
		return
	case err != nil:
		h.logger.Error("consume usage", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	simplified, err := h.simplifier.Simplify(r.Context(), doc.Content)
	if err != nil {
		h.logger.Error("simplify document", "error", err, "document_id", doc.ID)
		writeError(w, http.StatusBadGateway, "simplification failed")
		return
	}

	sim, err := h.documentStore.CreateSimplification(doc.ID, simplified)
	if err != nil {
		h.logger.Error("store simplification", "error", err, "document_id", doc.ID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"simplified_content": sim.SimplifiedContent,
		"uses_left":          usesLeft,
	})
}

// ownedDocument loads the path document and enforces ownership. Documents
// belonging to other users are indistinguishable from missing ones.
func (h *DocumentHandler) ownedDocument(w http.ResponseWriter, r *http.Request) (*model.Document, bool) {
	doc, err := h.documentStore.GetByID(r.PathValue("id"))
	if err != nil {
		h.logger.Error("get document", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if doc == nil || doc.UserID != auth.UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}
