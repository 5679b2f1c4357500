package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/taskie/internal/auth"
	"github.com/dukerupert/taskie/internal/chore"
	"github.com/dukerupert/taskie/internal/feed"
	"github.com/dukerupert/taskie/internal/media"
	"github.com/dukerupert/taskie/internal/model"
	"github.com/dukerupert/taskie/internal/store"
)

type ChoreHandler struct {
	choreStore     *store.ChoreStore
	householdStore *store.HouseholdStore
	media          *media.Store
	broker         *feed.Broker
	logger         *slog.Logger
	now            func() time.Time
}

func NewChoreHandler(cs *store.ChoreStore, hs *store.HouseholdStore, ms *media.Store, broker *feed.Broker, logger *slog.Logger) *ChoreHandler {
	return &ChoreHandler{
		choreStore:     cs,
		householdStore: hs,
		media:          ms,
		broker:         broker,
		logger:         logger,
		now:            time.Now,
	}
}

func (h *ChoreHandler) publish(r *http.Request, action string, choreID int64, extra map[string]any) {
	if h.broker == nil {
		return
	}
	ac, _ := auth.FromContext(r.Context())
	h.broker.Publish(feed.NewEvent(feed.EntityChore, action, ac.HouseholdID, choreID, ac.UserID, extra))
}

type choreRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	RewardAmount json.RawMessage `json:"reward_amount"`
}

// parseReward accepts a JSON number or string, with an optional leading "$",
// and rounds to cents.
func parseReward(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, errors.New("reward_amount is required")
	}

	text := string(raw)
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, errors.New("invalid reward_amount")
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "$")
	text = strings.ReplaceAll(text, ",", "")
	if text == "" {
		return decimal.Decimal{}, errors.New("reward_amount is required")
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, errors.New("invalid reward_amount")
	}
	if d.IsNegative() {
		return decimal.Decimal{}, errors.New("reward_amount cannot be negative")
	}
	return d.Round(2), nil
}

// Create handles POST /api/chores
func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req choreRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	reward, err := parseReward(req.RewardAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.choreStore.Create(ac.HouseholdID, ac.UserID, req.Name, strings.TrimSpace(req.Description), reward)
	if err != nil {
		h.logger.Error("create chore", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create chore")
		return
	}

	h.publish(r, feed.ActionCreated, c.ID, nil)
	h.respond(w, r, http.StatusCreated, c)
}

// List handles GET /api/chores?filter=all|mine|accepted
func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var chores []model.Chore
	var err error
	switch r.URL.Query().Get("filter") {
	case "", "all":
		chores, err = h.choreStore.ListByHousehold(ac.HouseholdID)
	case "mine":
		chores, err = h.choreStore.ListByRequestor(ac.HouseholdID, ac.UserID)
	case "accepted":
		chores, err = h.choreStore.ListByAcceptor(ac.HouseholdID, ac.UserID)
	default:
		writeError(w, http.StatusBadRequest, "filter must be all, mine, or accepted")
		return
	}
	if err != nil {
		h.logger.Error("list chores", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list chores")
		return
	}

	members, err := h.householdStore.MemberIndex(ac.HouseholdID)
	if err != nil {
		h.logger.Error("load members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list chores")
		return
	}

	viewer := auth.Viewer(r.Context())
	now := h.now()
	views := make([]chore.View, 0, len(chores))
	for _, c := range chores {
		views = append(views, chore.NewView(c, viewer, members, now))
	}
	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /api/chores/{id}
func (h *ChoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	h.respond(w, r, http.StatusOK, c)
}

// Accept handles POST /api/chores/{id}/accept
func (h *ChoreHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, chore.ActionAccept, feed.ActionAccepted, func(c *model.Chore, userID int64) (*model.Chore, error) {
		return h.choreStore.Accept(c.ID, userID)
	})
}

// Finish handles POST /api/chores/{id}/finish
func (h *ChoreHandler) Finish(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, chore.ActionFinish, feed.ActionFinished, func(c *model.Chore, userID int64) (*model.Chore, error) {
		return h.choreStore.Finish(c.ID, userID, h.now())
	})
}

// Withdraw handles POST /api/chores/{id}/withdraw. The chore is removed.
func (h *ChoreHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	viewer := auth.Viewer(r.Context())
	if !chore.Permits(*c, viewer, chore.ActionWithdraw) {
		h.conflict(w, c, viewer, chore.ActionWithdraw)
		return
	}

	// Image rows cascade with the chore, so the keys are read first.
	keys, err := h.choreStore.ImageKeys(c.ID)
	if err != nil {
		h.logger.Error("list chore image keys", "chore_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to withdraw chore")
		return
	}

	if err := h.choreStore.Withdraw(c.ID, *viewer); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "chore changed, refresh and try again")
			return
		}
		h.logger.Error("withdraw chore", "chore_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to withdraw chore")
		return
	}

	h.deleteImages(r, c.ID, keys)

	extra := map[string]any{"name": c.Name}
	if c.AcceptorID != nil {
		extra["acceptor_id"] = *c.AcceptorID
	}
	h.publish(r, feed.ActionWithdrawn, c.ID, extra)
	w.WriteHeader(http.StatusNoContent)
}

// deleteImages removes stored objects for a deleted chore. Failures leave an
// orphaned object behind and are only logged.
func (h *ChoreHandler) deleteImages(r *http.Request, choreID int64, keys []string) {
	if len(keys) == 0 {
		return
	}
	if !h.media.Enabled() {
		h.logger.Warn("image storage disabled, leaving objects", "chore_id", choreID, "count", len(keys))
		return
	}
	for _, key := range keys {
		if err := h.media.Delete(r.Context(), key); err != nil {
			h.logger.Warn("delete chore image", "chore_id", choreID, "key", key, "error", err)
		}
	}
}

// Release handles POST /api/chores/{id}/release. Only the acceptor of an
// unfinished chore may release it back to open.
func (h *ChoreHandler) Release(w http.ResponseWriter, r *http.Request) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	viewer := auth.Viewer(r.Context())
	if !chore.CanRelease(*c, viewer) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "release is not permitted",
			"status": chore.DeriveStatus(*c),
			"action": chore.DeriveAction(*c, viewer),
		})
		return
	}

	updated, err := h.choreStore.Release(c.ID, *viewer)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "chore changed, refresh and try again")
			return
		}
		h.logger.Error("release chore", "chore_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to release chore")
		return
	}

	h.publish(r, feed.ActionReleased, c.ID, nil)
	h.respond(w, r, http.StatusOK, updated)
}

// UploadImage handles POST /api/chores/{id}/images (multipart field "image").
// Only the requestor may attach photos.
func (h *ChoreHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if !h.media.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "image uploads are not configured")
		return
	}

	c, ok := h.load(w, r)
	if !ok {
		return
	}
	ac, _ := auth.FromContext(r.Context())
	if c.RequestorID != ac.UserID {
		writeError(w, http.StatusForbidden, "only the requestor can add photos")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, media.MaxImageSize+(1<<20))
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	obj, err := h.media.PutImage(r.Context(), c.HouseholdID, header.Header.Get("Content-Type"), header.Size, file)
	switch {
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrTooLarge):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("upload chore image", "chore_id", c.ID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to store image")
		return
	}

	img, err := h.choreStore.AddImage(c.ID, obj.Key, obj.URL)
	if err != nil {
		h.logger.Error("record chore image", "chore_id", c.ID, "error", err)
		if err := h.media.Delete(r.Context(), obj.Key); err != nil {
			h.logger.Warn("remove orphaned image", "key", obj.Key, "error", err)
		}
		writeError(w, http.StatusInternalServerError, "failed to save image")
		return
	}

	h.publish(r, feed.ActionImageAdded, c.ID, map[string]any{"url": img.URL})
	writeJSON(w, http.StatusCreated, img)
}

type commandFunc func(c *model.Chore, userID int64) (*model.Chore, error)

func (h *ChoreHandler) command(w http.ResponseWriter, r *http.Request, action chore.Action, event string, run commandFunc) {
	c, ok := h.load(w, r)
	if !ok {
		return
	}
	viewer := auth.Viewer(r.Context())
	if !chore.Permits(*c, viewer, action) {
		h.conflict(w, c, viewer, action)
		return
	}

	updated, err := run(c, *viewer)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "chore changed, refresh and try again")
			return
		}
		h.logger.Error("chore command", "action", action, "chore_id", c.ID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to %s chore", action))
		return
	}

	h.logger.Debug("chore command", "action", action, "chore_id", c.ID, "user_id", *viewer)
	h.publish(r, event, c.ID, nil)
	h.respond(w, r, http.StatusOK, updated)
}

func (h *ChoreHandler) conflict(w http.ResponseWriter, c *model.Chore, viewer *int64, action chore.Action) {
	writeJSON(w, http.StatusConflict, map[string]any{
		"error":  fmt.Sprintf("%s is not permitted", action),
		"status": chore.DeriveStatus(*c),
		"action": chore.DeriveAction(*c, viewer),
	})
}

// load fetches the chore named in the path, answering 404 for chores outside
// the caller's household.
func (h *ChoreHandler) load(w http.ResponseWriter, r *http.Request) (*model.Chore, bool) {
	return loadChore(w, r, h.choreStore, h.logger)
}

func (h *ChoreHandler) respond(w http.ResponseWriter, r *http.Request, status int, c *model.Chore) {
	members, err := h.householdStore.MemberIndex(c.HouseholdID)
	if err != nil {
		h.logger.Error("load members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load chore")
		return
	}
	writeJSON(w, status, chore.NewView(*c, auth.Viewer(r.Context()), members, h.now()))
}

func loadChore(w http.ResponseWriter, r *http.Request, cs *store.ChoreStore, logger *slog.Logger) (*model.Chore, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}

	c, err := cs.GetByID(id)
	if err != nil {
		logger.Error("get chore", "chore_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get chore")
		return nil, false
	}
	if c == nil || c.HouseholdID != auth.HouseholdID(r.Context()) {
		writeError(w, http.StatusNotFound, "chore not found")
		return nil, false
	}
	return c, true
}
