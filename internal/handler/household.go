package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/taskie/internal/auth"
	"github.com/dukerupert/taskie/internal/model"
	"github.com/dukerupert/taskie/internal/store"
)

type HouseholdHandler struct {
	householdStore *store.HouseholdStore
	sessionStore   *store.SessionStore
	logger         *slog.Logger
}

func NewHouseholdHandler(hs *store.HouseholdStore, ss *store.SessionStore, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{householdStore: hs, sessionStore: ss, logger: logger}
}

type householdRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/households. The creator becomes admin and the
// session switches to the new household.
func (h *HouseholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req householdRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	household, err := h.householdStore.Create(req.Name, ac.UserID)
	if err != nil {
		h.logger.Error("create household", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create household")
		return
	}

	if err := h.sessionStore.SetHousehold(ac.SessionID, household.ID); err != nil {
		h.logger.Error("switch session household", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to switch household")
		return
	}

	writeJSON(w, http.StatusCreated, household)
}

type joinRequest struct {
	JoinCode string `json:"join_code"`
}

// Join handles POST /api/households/join
func (h *HouseholdHandler) Join(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.JoinCode))
	if code == "" {
		writeError(w, http.StatusBadRequest, "join_code is required")
		return
	}

	household, err := h.householdStore.GetByJoinCode(code)
	if err != nil {
		h.logger.Error("lookup join code", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to join household")
		return
	}
	if household == nil {
		writeError(w, http.StatusNotFound, "household not found")
		return
	}

	if _, err := h.householdStore.AddMember(household.ID, ac.UserID, model.RoleMember); err != nil {
		h.logger.Error("add member", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to join household")
		return
	}
	if err := h.sessionStore.SetHousehold(ac.SessionID, household.ID); err != nil {
		h.logger.Error("switch session household", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to switch household")
		return
	}

	h.logger.Info("member joined household", "user_id", ac.UserID, "household_id", household.ID)
	writeJSON(w, http.StatusOK, household)
}

// List handles GET /api/households
func (h *HouseholdHandler) List(w http.ResponseWriter, r *http.Request) {
	households, err := h.householdStore.ListHouseholdsForUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list households", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list households")
		return
	}
	if households == nil {
		households = []model.Household{}
	}
	writeJSON(w, http.StatusOK, households)
}

// Switch handles POST /api/households/{id}/switch
func (h *HouseholdHandler) Switch(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	member, err := h.householdStore.GetMember(id, ac.UserID)
	if err != nil {
		h.logger.Error("check membership", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to switch household")
		return
	}
	if member == nil {
		writeError(w, http.StatusNotFound, "household not found")
		return
	}

	if err := h.sessionStore.SetHousehold(ac.SessionID, id); err != nil {
		h.logger.Error("switch session household", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to switch household")
		return
	}

	household, err := h.householdStore.GetByID(id)
	if err != nil || household == nil {
		writeError(w, http.StatusInternalServerError, "failed to load household")
		return
	}
	writeJSON(w, http.StatusOK, household)
}

// Members handles GET /api/household/members
func (h *HouseholdHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.householdStore.ListMembers(auth.HouseholdID(r.Context()))
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []model.MemberProfile{}
	}
	writeJSON(w, http.StatusOK, members)
}
