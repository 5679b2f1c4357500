package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/dukerupert/taskie/internal/database"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, Options{}, logger)
}

type client struct {
	t      *testing.T
	router http.Handler
	token  string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.1:1234"
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

// signUp registers and signs in a user, returning an authenticated client.
func signUp(t *testing.T, router http.Handler, name, email string) *client {
	t.Helper()
	c := &client{t: t, router: router}
	rec := c.do("POST", "/api/users", map[string]string{"name": name, "email": email, "password": "correct horse"})
	expectStatus(t, rec, http.StatusCreated)

	rec = c.do("POST", "/api/sessions", map[string]string{"email": email, "password": "correct horse"})
	expectStatus(t, rec, http.StatusCreated)
	if cookies := rec.Result().Cookies(); len(cookies) == 0 || cookies[0].Name != "taskie_session" {
		t.Errorf("expected taskie_session cookie, got %v", cookies)
	}
	c.token = decode[struct {
		Token string `json:"token"`
	}](t, rec).Token
	return c
}

type choreView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	RewardAmount  string `json:"reward_amount"`
	AcceptorID    *int64 `json:"acceptor_id"`
	Status        string `json:"status"`
	StatusLabel   string `json:"status_label"`
	Action        string `json:"action"`
	CanRelease    bool   `json:"can_release"`
	RequestorName string `json:"requestor_name"`
	AcceptorName  string `json:"acceptor_name"`
}

func TestHealth(t *testing.T) {
	srv := setupServer(t)
	c := &client{t: t, router: srv.Router()}
	rec := c.do("GET", "/health", nil)
	expectStatus(t, rec, http.StatusOK)

	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if v, _ := body["schema_version"].(float64); v < 1 {
		t.Errorf("schema_version = %v, want >= 1", body["schema_version"])
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv := setupServer(t)
	c := &client{t: t, router: srv.Router()}
	expectStatus(t, c.do("GET", "/api/chores", nil), http.StatusUnauthorized)
}

func TestChoresRequireHousehold(t *testing.T) {
	srv := setupServer(t)
	alice := signUp(t, srv.Router(), "Alice", "alice@example.com")
	expectStatus(t, alice.do("GET", "/api/chores", nil), http.StatusForbidden)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	srv := setupServer(t)
	router := srv.Router()
	signUp(t, router, "Alice", "alice@example.com")

	c := &client{t: t, router: router}
	rec := c.do("POST", "/api/users", map[string]string{"name": "Alice 2", "email": "Alice@Example.com", "password": "correct horse"})
	expectStatus(t, rec, http.StatusConflict)
}

func TestLoginWrongPassword(t *testing.T) {
	srv := setupServer(t)
	router := srv.Router()
	signUp(t, router, "Alice", "alice@example.com")

	c := &client{t: t, router: router}
	rec := c.do("POST", "/api/sessions", map[string]string{"email": "alice@example.com", "password": "nope nope"})
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestChoreLifecycle(t *testing.T) {
	srv := setupServer(t)
	router := srv.Router()
	sub := srv.Broker().Subscribe(1)
	defer sub.Cancel()

	alice := signUp(t, router, "Alice", "alice@example.com")
	bob := signUp(t, router, "Bob", "bob@example.com")
	carol := signUp(t, router, "Carol", "carol@example.com")

	rec := alice.do("POST", "/api/households", map[string]string{"name": "Home"})
	expectStatus(t, rec, http.StatusCreated)
	household := decode[struct {
		ID       int64  `json:"id"`
		JoinCode string `json:"join_code"`
	}](t, rec)
	if household.ID != 1 {
		t.Fatalf("household id = %d, want 1", household.ID)
	}

	for _, c := range []*client{bob, carol} {
		expectStatus(t, c.do("POST", "/api/households/join", map[string]string{"join_code": household.JoinCode}), http.StatusOK)
	}

	members := decode[[]map[string]any](t, alice.do("GET", "/api/household/members", nil))
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3", len(members))
	}

	// Post a chore; the requestor's action is withdraw.
	rec = alice.do("POST", "/api/chores", map[string]any{"name": "Mow lawn", "reward_amount": "$12.50"})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[choreView](t, rec)
	if created.Status != "open" || created.Action != "withdraw" || created.RequestorName != "You" {
		t.Errorf("created = %+v", created)
	}
	if created.RewardAmount != "12.5" {
		t.Errorf("reward = %q, want 12.5", created.RewardAmount)
	}

	ev := <-sub.C()
	if ev.Type != "chore_created" || ev.ID != created.ID {
		t.Errorf("event = %+v", ev)
	}

	path := "/api/chores/" + itoa(created.ID)

	// Bob sees accept; the requestor cannot accept their own chore.
	if v := decode[choreView](t, bob.do("GET", path, nil)); v.Action != "accept" || v.RequestorName != "Alice" {
		t.Errorf("bob view = %+v", v)
	}
	expectStatus(t, alice.do("POST", path+"/accept", nil), http.StatusConflict)

	rec = bob.do("POST", path+"/accept", nil)
	expectStatus(t, rec, http.StatusOK)
	accepted := decode[choreView](t, rec)
	if accepted.Status != "accepted" || accepted.StatusLabel != "Pending" || accepted.Action != "finish" || !accepted.CanRelease {
		t.Errorf("accepted = %+v", accepted)
	}
	if ev := <-sub.C(); ev.Type != "chore_accepted" {
		t.Errorf("event type = %q, want chore_accepted", ev.Type)
	}

	// Third parties see no action and cannot claim or finish.
	if v := decode[choreView](t, carol.do("GET", path, nil)); v.Action != "none" || v.AcceptorName != "Bob" {
		t.Errorf("carol view = %+v", v)
	}
	expectStatus(t, carol.do("POST", path+"/accept", nil), http.StatusConflict)
	expectStatus(t, carol.do("POST", path+"/finish", nil), http.StatusConflict)
	expectStatus(t, alice.do("POST", path+"/finish", nil), http.StatusConflict)

	// Chat between the parties.
	expectStatus(t, bob.do("POST", path+"/messages", map[string]string{"body": "On it"}), http.StatusCreated)
	expectStatus(t, bob.do("POST", path+"/messages", map[string]string{"body": "Almost done"}), http.StatusCreated)
	expectStatus(t, alice.do("POST", path+"/messages", map[string]string{"body": "Thanks!"}), http.StatusCreated)
	entries := decode[[]struct {
		Body       string `json:"body"`
		SenderName string `json:"sender_name"`
		FromViewer bool   `json:"from_viewer"`
		First      bool   `json:"first_in_sequence"`
		Last       bool   `json:"last_in_sequence"`
	}](t, alice.do("GET", path+"/messages", nil))
	if len(entries) != 3 {
		t.Fatalf("messages = %d, want 3", len(entries))
	}
	if entries[0].SenderName != "Bob" || !entries[0].First || entries[0].Last {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].First || !entries[1].Last {
		t.Errorf("entry 1 = %+v", entries[1])
	}
	if !entries[2].FromViewer || entries[2].SenderName != "You" {
		t.Errorf("entry 2 = %+v", entries[2])
	}

	rec = bob.do("POST", path+"/finish", nil)
	expectStatus(t, rec, http.StatusOK)
	finished := decode[choreView](t, rec)
	if finished.Status != "finished" || finished.StatusLabel != "Finished" || finished.Action != "none" {
		t.Errorf("finished = %+v", finished)
	}

	// Finished chores are terminal for everyone.
	expectStatus(t, alice.do("POST", path+"/withdraw", nil), http.StatusConflict)
	expectStatus(t, bob.do("POST", path+"/release", nil), http.StatusConflict)

	accepts := decode[[]choreView](t, bob.do("GET", "/api/chores?filter=accepted", nil))
	if len(accepts) != 1 || accepts[0].ID != created.ID {
		t.Errorf("bob accepted list = %+v", accepts)
	}
	mine := decode[[]choreView](t, bob.do("GET", "/api/chores?filter=mine", nil))
	if len(mine) != 0 {
		t.Errorf("bob mine list = %+v", mine)
	}
	expectStatus(t, bob.do("GET", "/api/chores?filter=bogus", nil), http.StatusBadRequest)
}

func TestReleaseAndWithdraw(t *testing.T) {
	srv := setupServer(t)
	router := srv.Router()

	alice := signUp(t, router, "Alice", "alice@example.com")
	bob := signUp(t, router, "Bob", "bob@example.com")

	household := decode[struct {
		JoinCode string `json:"join_code"`
	}](t, alice.do("POST", "/api/households", map[string]string{"name": "Home"}))
	expectStatus(t, bob.do("POST", "/api/households/join", map[string]string{"join_code": household.JoinCode}), http.StatusOK)

	created := decode[choreView](t, alice.do("POST", "/api/chores", map[string]any{"name": "Dishes", "reward_amount": 3}))
	path := "/api/chores/" + itoa(created.ID)

	expectStatus(t, bob.do("POST", path+"/accept", nil), http.StatusOK)
	expectStatus(t, alice.do("POST", path+"/release", nil), http.StatusConflict)

	rec := bob.do("POST", path+"/release", nil)
	expectStatus(t, rec, http.StatusOK)
	if v := decode[choreView](t, rec); v.Status != "open" || v.AcceptorID != nil || v.Action != "accept" {
		t.Errorf("released = %+v", v)
	}

	// The requestor may withdraw an accepted chore.
	expectStatus(t, bob.do("POST", path+"/accept", nil), http.StatusOK)
	expectStatus(t, bob.do("POST", path+"/withdraw", nil), http.StatusConflict)
	expectStatus(t, alice.do("POST", path+"/withdraw", nil), http.StatusNoContent)
	expectStatus(t, alice.do("GET", path, nil), http.StatusNotFound)
}

func TestCreateChoreValidation(t *testing.T) {
	srv := setupServer(t)
	alice := signUp(t, srv.Router(), "Alice", "alice@example.com")
	expectStatus(t, alice.do("POST", "/api/households", map[string]string{"name": "Home"}), http.StatusCreated)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"reward_amount": "5"}},
		{"missing reward", map[string]any{"name": "Dishes"}},
		{"bad reward", map[string]any{"name": "Dishes", "reward_amount": "five"}},
		{"negative reward", map[string]any{"name": "Dishes", "reward_amount": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.t = t
			expectStatus(t, alice.do("POST", "/api/chores", tt.body), http.StatusBadRequest)
		})
	}
}

func TestChoreNotVisibleAcrossHouseholds(t *testing.T) {
	srv := setupServer(t)
	router := srv.Router()

	alice := signUp(t, router, "Alice", "alice@example.com")
	dave := signUp(t, router, "Dave", "dave@example.com")
	expectStatus(t, alice.do("POST", "/api/households", map[string]string{"name": "Home"}), http.StatusCreated)
	expectStatus(t, dave.do("POST", "/api/households", map[string]string{"name": "Elsewhere"}), http.StatusCreated)

	created := decode[choreView](t, alice.do("POST", "/api/chores", map[string]any{"name": "Dishes", "reward_amount": "1"}))
	path := "/api/chores/" + itoa(created.ID)

	expectStatus(t, dave.do("GET", path, nil), http.StatusNotFound)
	expectStatus(t, dave.do("POST", path+"/accept", nil), http.StatusNotFound)
}

func TestSwitchHousehold(t *testing.T) {
	srv := setupServer(t)
	router := srv.Router()

	alice := signUp(t, router, "Alice", "alice@example.com")
	first := decode[struct {
		ID int64 `json:"id"`
	}](t, alice.do("POST", "/api/households", map[string]string{"name": "Home"}))
	expectStatus(t, alice.do("POST", "/api/households", map[string]string{"name": "Cabin"}), http.StatusCreated)

	list := decode[[]map[string]any](t, alice.do("GET", "/api/households", nil))
	if len(list) != 2 {
		t.Fatalf("households = %d, want 2", len(list))
	}

	expectStatus(t, alice.do("POST", "/api/households/"+itoa(first.ID)+"/switch", nil), http.StatusOK)
	me := decode[struct {
		HouseholdID int64 `json:"household_id"`
	}](t, alice.do("GET", "/api/me", nil))
	if me.HouseholdID != first.ID {
		t.Errorf("household = %d, want %d", me.HouseholdID, first.ID)
	}

	expectStatus(t, alice.do("POST", "/api/households/999/switch", nil), http.StatusNotFound)
}

func TestLogout(t *testing.T) {
	srv := setupServer(t)
	alice := signUp(t, srv.Router(), "Alice", "alice@example.com")

	expectStatus(t, alice.do("DELETE", "/api/sessions", nil), http.StatusNoContent)
	expectStatus(t, alice.do("GET", "/api/me", nil), http.StatusUnauthorized)
}

func TestImageUploadDisabled(t *testing.T) {
	srv := setupServer(t)
	alice := signUp(t, srv.Router(), "Alice", "alice@example.com")
	expectStatus(t, alice.do("POST", "/api/households", map[string]string{"name": "Home"}), http.StatusCreated)
	created := decode[choreView](t, alice.do("POST", "/api/chores", map[string]any{"name": "Dishes", "reward_amount": "1"}))

	expectStatus(t, alice.do("POST", "/api/chores/"+itoa(created.ID)+"/images", nil), http.StatusServiceUnavailable)
}

func TestVAPIDKeyDisabled(t *testing.T) {
	srv := setupServer(t)
	alice := signUp(t, srv.Router(), "Alice", "alice@example.com")
	expectStatus(t, alice.do("GET", "/api/push/vapid-key", nil), http.StatusNotFound)
	if srv.Notifier() != nil {
		t.Error("expected no notifier without VAPID keys")
	}
}

func TestJoinHouseholdRateLimitedPerUser(t *testing.T) {
	srv := setupServer(t)
	router := srv.Router()

	mallory := signUp(t, router, "Mallory", "mallory@example.com")
	bob := signUp(t, router, "Bob", "bob@example.com")

	for i := 0; i < 5; i++ {
		rec := mallory.do("POST", "/api/households/join", map[string]string{"join_code": "ZZZZZ" + strconv.Itoa(i)})
		expectStatus(t, rec, http.StatusNotFound)
	}
	rec := mallory.do("POST", "/api/households/join", map[string]string{"join_code": "ZZZZZZ"})
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Same address, different user: the budget is per account.
	expectStatus(t, bob.do("POST", "/api/households/join", map[string]string{"join_code": "ZZZZZZ"}), http.StatusNotFound)
}

func TestRegisterRateLimited(t *testing.T) {
	srv := setupServer(t)
	c := &client{t: t, router: srv.Router()}

	for i := 0; i < 5; i++ {
		email := "user" + strconv.Itoa(i) + "@example.com"
		rec := c.do("POST", "/api/users", map[string]string{"name": "User", "email": email, "password": "correct horse"})
		expectStatus(t, rec, http.StatusCreated)
	}
	rec := c.do("POST", "/api/users", map[string]string{"name": "User", "email": "late@example.com", "password": "correct horse"})
	expectStatus(t, rec, http.StatusTooManyRequests)

	// Login has its own budget.
	rec = c.do("POST", "/api/sessions", map[string]string{"email": "user0@example.com", "password": "correct horse"})
	expectStatus(t, rec, http.StatusCreated)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
