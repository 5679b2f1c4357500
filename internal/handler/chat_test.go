package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"

	"github.com/dukerupert/taskie/internal/auth"
	"github.com/dukerupert/taskie/internal/chat"
	"github.com/dukerupert/taskie/internal/media"
	"github.com/dukerupert/taskie/internal/model"
)

func newChatHandler(f uploadFixture, ms *media.Store) *ChatHandler {
	return NewChatHandler(f.chat, f.cs, f.hs, ms, f.broker, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type chatPart struct {
	contentType string
	data        string
}

func chatMultipartRequest(t *testing.T, choreID int64, ac auth.AuthContext, body string, images ...chatPart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if body != "" {
		mw.WriteField("body", body)
	}
	for i, img := range images {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="image"; filename="photo`+strconv.Itoa(i)+`"`)
		hdr.Set("Content-Type", img.contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write([]byte(img.data))
	}
	mw.Close()

	id := strconv.FormatInt(choreID, 10)
	req := httptest.NewRequest("POST", "/api/chores/"+id+"/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetPathValue("id", id)
	return req.WithContext(auth.WithAuth(req.Context(), ac))
}

func TestChatCreateWithImages(t *testing.T) {
	f := setupUpload(t)
	h := newChatHandler(f, f.media)
	sub := f.broker.Subscribe(f.bob.HouseholdID)
	defer sub.Cancel()

	rec := httptest.NewRecorder()
	h.Create(rec, chatMultipartRequest(t, f.chore.ID, f.bob, "Before and after",
		chatPart{"image/jpeg", "jpeg one"}, chatPart{"image/png", "png two"}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var msg model.ChatMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Body != "Before and after" {
		t.Errorf("body = %q", msg.Body)
	}
	if len(f.s3.keys) != 2 || len(msg.ImageURLs) != 2 {
		t.Fatalf("uploaded %v, image urls %v", f.s3.keys, msg.ImageURLs)
	}
	for i, key := range f.s3.keys {
		if msg.ImageURLs[i] != "https://cdn.example.com/"+key {
			t.Errorf("image[%d] = %q, want key %q", i, msg.ImageURLs[i], key)
		}
	}

	ev := <-sub.C()
	if ev.Extra["image_count"] != 2 {
		t.Errorf("image_count = %v, want 2", ev.Extra["image_count"])
	}

	msgs, err := f.chat.ListByChore(f.chore.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entries := chat.Group(msgs, &f.alice.UserID, nil, msgs[0].CreatedAt)
	if len(entries) != 1 || len(entries[0].ImageURLs) != 2 {
		t.Errorf("grouped entries = %+v", entries)
	}
}

func TestChatCreateImageOnly(t *testing.T) {
	f := setupUpload(t)
	h := newChatHandler(f, f.media)

	rec := httptest.NewRecorder()
	h.Create(rec, chatMultipartRequest(t, f.chore.ID, f.alice, "", chatPart{"image/webp", "webp"}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
}

func TestChatCreateRejectsEmpty(t *testing.T) {
	f := setupUpload(t)
	h := newChatHandler(f, f.media)

	rec := httptest.NewRecorder()
	h.Create(rec, chatMultipartRequest(t, f.chore.ID, f.alice, "   "))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestChatCreateUnsupportedImageDiscardsUploads(t *testing.T) {
	f := setupUpload(t)
	h := newChatHandler(f, f.media)

	rec := httptest.NewRecorder()
	h.Create(rec, chatMultipartRequest(t, f.chore.ID, f.alice, "docs",
		chatPart{"image/png", "ok"}, chatPart{"application/pdf", "%PDF"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if len(f.s3.keys) != 1 || len(f.s3.deleted) != 1 || f.s3.deleted[0] != f.s3.keys[0] {
		t.Errorf("uploaded %v, deleted %v; want first upload removed", f.s3.keys, f.s3.deleted)
	}
	if msgs, _ := f.chat.ListByChore(f.chore.ID); len(msgs) != 0 {
		t.Errorf("expected no message, got %d", len(msgs))
	}
}

func TestChatCreateImagesDisabled(t *testing.T) {
	f := setupUpload(t)
	h := newChatHandler(f, media.New(media.S3Config{}))

	rec := httptest.NewRecorder()
	h.Create(rec, chatMultipartRequest(t, f.chore.ID, f.alice, "look", chatPart{"image/png", "png"}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestChatCreateJSON(t *testing.T) {
	f := setupUpload(t)
	h := newChatHandler(f, nil)

	id := strconv.FormatInt(f.chore.ID, 10)
	req := httptest.NewRequest("POST", "/api/chores/"+id+"/messages", strings.NewReader(`{"body":"On it"}`))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("id", id)
	req = req.WithContext(auth.WithAuth(req.Context(), f.bob))

	rec := httptest.NewRecorder()
	h.Create(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var msg model.ChatMessage
	json.Unmarshal(rec.Body.Bytes(), &msg)
	if msg.ImageURLs == nil || len(msg.ImageURLs) != 0 {
		t.Errorf("image urls = %#v, want empty", msg.ImageURLs)
	}
}
