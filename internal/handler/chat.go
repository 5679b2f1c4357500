package handler

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/taskie/internal/auth"
	"github.com/dukerupert/taskie/internal/chat"
	"github.com/dukerupert/taskie/internal/feed"
	"github.com/dukerupert/taskie/internal/media"
	"github.com/dukerupert/taskie/internal/model"
	"github.com/dukerupert/taskie/internal/store"
)

const (
	maxMessageLength = 2000
	maxMessageImages = 4
)

type ChatHandler struct {
	chatStore      *store.ChatStore
	choreStore     *store.ChoreStore
	householdStore *store.HouseholdStore
	media          *media.Store
	broker         *feed.Broker
	logger         *slog.Logger
	now            func() time.Time
}

func NewChatHandler(chs *store.ChatStore, cs *store.ChoreStore, hs *store.HouseholdStore, ms *media.Store, broker *feed.Broker, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chatStore:      chs,
		choreStore:     cs,
		householdStore: hs,
		media:          ms,
		broker:         broker,
		logger:         logger,
		now:            time.Now,
	}
}

// List handles GET /api/chores/{id}/messages
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := loadChore(w, r, h.choreStore, h.logger)
	if !ok {
		return
	}

	msgs, err := h.chatStore.ListByChore(c.ID)
	if err != nil {
		h.logger.Error("list chat messages", "chore_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	members, err := h.householdStore.MemberIndex(c.HouseholdID)
	if err != nil {
		h.logger.Error("load members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, chat.Group(msgs, auth.Viewer(r.Context()), members, h.now()))
}

type messageRequest struct {
	Body string `json:"body"`
}

// Create handles POST /api/chores/{id}/messages. The body is JSON {"body"},
// or multipart with a "body" field and up to four "image" files. A message
// needs text, images, or both.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	c, ok := loadChore(w, r, h.choreStore, h.logger)
	if !ok {
		return
	}

	var body string
	var files []*multipart.FileHeader
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxMessageImages*media.MaxImageSize+(1<<20))
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()
		body = r.FormValue("body")
		files = r.MultipartForm.File["image"]
	} else {
		var req messageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		body = req.Body
	}

	body = strings.TrimSpace(body)
	if body == "" && len(files) == 0 {
		writeError(w, http.StatusBadRequest, "body or image is required")
		return
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		writeError(w, http.StatusBadRequest, "message is too long")
		return
	}
	if len(files) > maxMessageImages {
		writeError(w, http.StatusBadRequest, "too many images")
		return
	}
	if len(files) > 0 && !h.media.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}

	images, status, err := h.storeImages(r, c.HouseholdID, files)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	msg, err := h.chatStore.Create(c.ID, ac.UserID, body, images...)
	if err != nil {
		h.logger.Error("create chat message", "chore_id", c.ID, "error", err)
		h.discard(r, images)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if h.broker != nil {
		h.broker.Publish(feed.NewEvent(feed.EntityChatMessage, feed.ActionCreated, ac.HouseholdID, msg.ID, ac.UserID,
			map[string]any{"chore_id": c.ID, "body": msg.Body, "image_count": len(msg.ImageURLs)}))
	}
	writeJSON(w, http.StatusCreated, msg)
}

// storeImages uploads each file. On failure the uploads made so far are
// removed and the returned status and error describe the response.
func (h *ChatHandler) storeImages(r *http.Request, householdID int64, files []*multipart.FileHeader) ([]model.StoredImage, int, error) {
	var images []model.StoredImage
	for _, fh := range files {
		obj, err := h.putImage(r, householdID, fh)
		switch {
		case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrTooLarge):
			h.discard(r, images)
			return nil, http.StatusBadRequest, err
		case err != nil:
			h.logger.Error("upload chat image", "household_id", householdID, "error", err)
			h.discard(r, images)
			return nil, http.StatusBadGateway, errors.New("failed to store image")
		}
		images = append(images, model.StoredImage{ObjectKey: obj.Key, URL: obj.URL})
	}
	return images, 0, nil
}

func (h *ChatHandler) putImage(r *http.Request, householdID int64, fh *multipart.FileHeader) (*media.Object, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return h.media.PutImage(r.Context(), householdID, fh.Header.Get("Content-Type"), fh.Size, f)
}

func (h *ChatHandler) discard(r *http.Request, images []model.StoredImage) {
	for _, img := range images {
		if err := h.media.Delete(r.Context(), img.ObjectKey); err != nil {
			h.logger.Warn("remove orphaned image", "key", img.ObjectKey, "error", err)
		}
	}
}
