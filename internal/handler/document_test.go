package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/claritylabs/claritycounsel/internal/database"
	"github.com/claritylabs/claritycounsel/internal/model"
	"github.com/claritylabs/claritycounsel/internal/plan"
	"github.com/claritylabs/claritycounsel/internal/store"
	"github.com/claritylabs/claritycounsel/internal/usage"
)

type fakeSimplifier struct {
	out   string
	err   error
	calls int
}

func (f *fakeSimplifier) Simplify(ctx context.Context, text string) (string, error) {
	f.calls++
	return f.out, f.err
}

type documentTestEnv struct {
	handler   *DocumentHandler
	documents *store.DocumentStore
	subs      *store.SubscriptionStore
	users     *store.UserStore
	engine    *fakeSimplifier
	user      *model.User
}

func setupDocumentTest(t *testing.T) *documentTestEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	user, err := users.Create("alice@example.com", "Alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	documents := store.NewDocumentStore(db)
	subs := store.NewSubscriptionStore(db)
	engine := &fakeSimplifier{out: "In plain terms: you agree to pay rent."}

	return &documentTestEnv{
		handler:   NewDocumentHandler(documents, nil, usage.NewGate(subs), engine, discardLogger()),
		documents: documents,
		subs:      subs,
		users:     users,
		engine:    engine,
		user:      user,
	}
}

func uploadRequest(t *testing.T, userID int64, fileName, title string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatalf("write title field: %v", err)
		}
	}
	mw.Close()

	req := authedRequest(http.MethodPost, "/api/documents", &buf, userID)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func simplifyRequest(userID int64, docID string) *http.Request {
	req := authedRequest(http.MethodPost, "/api/documents/"+docID+"/simplify", nil, userID)
	req.SetPathValue("id", docID)
	return req
}

func TestUploadText(t *testing.T) {
	env := setupDocumentTest(t)

	rec := httptest.NewRecorder()
	env.handler.Upload(rec, uploadRequest(t, env.user.ID, "lease.txt", "My Lease",
		[]byte("The lessee shall remit payment monthly.")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body)
	}
	var doc model.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.Title != "My Lease" {
		t.Errorf("title = %q, want %q", doc.Title, "My Lease")
	}
	if doc.Content != "The lessee shall remit payment monthly." {
		t.Errorf("content = %q", doc.Content)
	}
}

func TestUploadTitleDefaultsToFileName(t *testing.T) {
	env := setupDocumentTest(t)

	rec := httptest.NewRecorder()
	env.handler.Upload(rec, uploadRequest(t, env.user.ID, "contract.txt", "", []byte("terms")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var doc model.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.Title != "contract.txt" {
		t.Errorf("title = %q, want the file name", doc.Title)
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	env := setupDocumentTest(t)

	rec := httptest.NewRecorder()
	env.handler.Upload(rec, uploadRequest(t, env.user.ID, "scan.png", "", []byte{0x89, 'P', 'N', 'G'}))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUploadMissingFile(t *testing.T) {
	env := setupDocumentTest(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("title", "No File")
	mw.Close()

	req := authedRequest(http.MethodPost, "/api/documents", &buf, env.user.ID)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.Upload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetDocumentOwnership(t *testing.T) {
	env := setupDocumentTest(t)

	other, err := env.users.Create("bob@example.com", "Bob", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	doc, err := env.documents.Create(other.ID, "Bob's Will", "will.txt", "everything to the cat")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	// Another user's document reads as missing.
	req := authedRequest(http.MethodGet, "/api/documents/"+doc.ID, nil, env.user.ID)
	req.SetPathValue("id", doc.ID)
	rec := httptest.NewRecorder()
	env.handler.Get(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for foreign document = %d, want %d", rec.Code, http.StatusNotFound)
	}

	req = authedRequest(http.MethodGet, "/api/documents/"+doc.ID, nil, other.ID)
	req.SetPathValue("id", doc.ID)
	rec = httptest.NewRecorder()
	env.handler.Get(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status for owner = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestDeleteDocument(t *testing.T) {
	env := setupDocumentTest(t)

	doc, err := env.documents.Create(env.user.ID, "Lease", "lease.txt", "terms")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	req := authedRequest(http.MethodDelete, "/api/documents/"+doc.ID, nil, env.user.ID)
	req.SetPathValue("id", doc.ID)
	rec := httptest.NewRecorder()
	env.handler.Delete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got, err := env.documents.GetByID(doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got != nil {
		t.Error("document still present after delete")
	}
}

func TestSimplifyNoPlan(t *testing.T) {
	env := setupDocumentTest(t)

	doc, err := env.documents.Create(env.user.ID, "Lease", "lease.txt", "terms")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	rec := httptest.NewRecorder()
	env.handler.Simplify(rec, simplifyRequest(env.user.ID, doc.ID))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if env.engine.calls != 0 {
		t.Errorf("engine calls = %d, want 0", env.engine.calls)
	}
}

func TestSimplifyFreePlanLifecycle(t *testing.T) {
	env := setupDocumentTest(t)

	if _, err := env.subs.Upsert(env.user.ID, plan.Free, 1, nil, nil); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	first, err := env.documents.Create(env.user.ID, "Lease", "lease.txt", "terms")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	second, err := env.documents.Create(env.user.ID, "NDA", "nda.txt", "secrets")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	// The single free unit covers the first document.
	rec := httptest.NewRecorder()
	env.handler.Simplify(rec, simplifyRequest(env.user.ID, first.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
	var resp struct {
		SimplifiedContent string `json:"simplified_content"`
		UsesLeft          int    `json:"uses_left"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SimplifiedContent != env.engine.out {
		t.Errorf("simplified content = %q", resp.SimplifiedContent)
	}
	if resp.UsesLeft != 0 {
		t.Errorf("uses left = %d, want 0", resp.UsesLeft)
	}

	// Re-requesting the same document returns the stored rendition free of
	// charge.
	rec = httptest.NewRecorder()
	env.handler.Simplify(rec, simplifyRequest(env.user.ID, first.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat status = %d: %s", rec.Code, rec.Body)
	}
	var repeat struct {
		AlreadySimplified bool `json:"already_simplified"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&repeat); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !repeat.AlreadySimplified {
		t.Error("already_simplified = false, want true")
	}
	if env.engine.calls != 1 {
		t.Errorf("engine calls = %d, want 1", env.engine.calls)
	}

	// A new document needs a unit the exhausted plan no longer has.
	rec = httptest.NewRecorder()
	env.handler.Simplify(rec, simplifyRequest(env.user.ID, second.ID))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("no uses left in current billing period")) {
		t.Errorf("body = %s, want a quota-exhausted error", rec.Body)
	}
}

func TestSimplifyEngineFailureKeepsUnitConsumed(t *testing.T) {
	env := setupDocumentTest(t)
	env.engine.err = context.DeadlineExceeded

	if _, err := env.subs.Upsert(env.user.ID, plan.Basic, 10, nil, nil); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	doc, err := env.documents.Create(env.user.ID, "Lease", "lease.txt", "terms")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	rec := httptest.NewRecorder()
	env.handler.Simplify(rec, simplifyRequest(env.user.ID, doc.ID))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	sub, err := env.subs.GetByUserID(env.user.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if sub.UsesLeft != 9 {
		t.Errorf("uses left = %d, want 9 after failed attempt", sub.UsesLeft)
	}
}

func TestListDocuments(t *testing.T) {
	env := setupDocumentTest(t)

	rec := httptest.NewRecorder()
	env.handler.List(rec, authedRequest(http.MethodGet, "/api/documents", nil, env.user.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var docs []*model.Document
	if err := json.NewDecoder(rec.Body).Decode(&docs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("len = %d, want 0", len(docs))
	}

	for i, name := range []string{"lease.txt", "nda.txt"} {
		if _, err := env.documents.Create(env.user.ID, name, name, "text"); err != nil {
			t.Fatalf("create document %d: %v", i, err)
		}
	}

	rec = httptest.NewRecorder()
	env.handler.List(rec, authedRequest(http.MethodGet, "/api/documents", nil, env.user.ID))
	if err := json.NewDecoder(rec.Body).Decode(&docs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("len = %d, want 2", len(docs))
	}
}
