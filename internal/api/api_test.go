package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sociable/messenger/internal/auth"
	"github.com/sociable/messenger/internal/store"
	"github.com/sociable/messenger/internal/user"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type memUsers struct {
	byEmail map[string]*user.User
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]*user.User)}
}

func (m *memUsers) Create(ctx context.Context, u *user.User) error {
	if _, ok := m.byEmail[u.Email]; ok {
		return user.ErrEmailExists
	}
	cp := *u
	m.byEmail[u.Email] = &cp
	return nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*user.Public, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return &user.Public{ID: u.ID, Username: u.Username, BirthDate: u.BirthDate}, nil
		}
	}
	return nil, user.ErrNotFound
}

func (m *memUsers) List(ctx context.Context) ([]user.Public, error) {
	out := []user.Public{}
	for _, u := range m.byEmail {
		out = append(out, user.Public{ID: u.ID, Username: u.Username, BirthDate: u.BirthDate})
	}
	return out, nil
}

type memMessages struct {
	messages []store.Message
}

func (m *memMessages) QueryConversation(ctx context.Context, idA, idB string) ([]store.Message, error) {
	out := []store.Message{}
	for _, msg := range m.messages {
		if (msg.SenderID == idA && msg.RecipientID == idB) ||
			(msg.SenderID == idB && msg.RecipientID == idA) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestAPI(t *testing.T) (*API, *memUsers, *memMessages, *http.ServeMux) {
	t.Helper()
	users := newMemUsers()
	messages := &memMessages{}
	a := New(users, messages, auth.NewTokenManager("test-secret", "messenger-test"))
	mux := http.NewServeMux()
	a.Register(mux)
	return a, users, messages, mux
}

func postForm(mux *http.ServeMux, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func signup(t *testing.T, mux *http.ServeMux, username, email, password string) {
	t.Helper()
	w := postForm(mux, "/signup", url.Values{
		"username":  {username},
		"email":     {email},
		"dateBirth": {"1990-01-01"},
		"password":  {password},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSignupAndLogin(t *testing.T) {
	_, _, _, mux := newTestAPI(t)
	signup(t, mux, "alice", "alice@example.com", "secret-pass")

	w := postForm(mux, "/login", url.Values{
		"email":    {"alice@example.com"},
		"password": {"secret-pass"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200 (body: %s)", w.Code, w.Body)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("login response is not JSON: %v", err)
	}
	if resp["token"] == "" {
		t.Error("login response missing token")
	}
	if resp["username"] != "alice" {
		t.Errorf("login username = %q, want alice", resp["username"])
	}
	if resp["id"] == "" {
		t.Error("login response missing id")
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	_, _, _, mux := newTestAPI(t)
	signup(t, mux, "alice", "alice@example.com", "secret-pass")

	w := postForm(mux, "/signup", url.Values{
		"username": {"alice2"},
		"email":    {"alice@example.com"},
		"password": {"other-pass"},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	_, _, _, mux := newTestAPI(t)
	signup(t, mux, "alice", "alice@example.com", "secret-pass")

	cases := []url.Values{
		{"email": {"alice@example.com"}, "password": {"wrong"}},
		{"email": {"nobody@example.com"}, "password": {"secret-pass"}},
	}
	for _, form := range cases {
		if w := postForm(mux, "/login", form); w.Code != http.StatusUnauthorized {
			t.Errorf("login %v status = %d, want 401", form, w.Code)
		}
	}
}

func TestUserEndpointRequiresBearer(t *testing.T) {
	_, users, _, mux := newTestAPI(t)
	users.Create(context.Background(), &user.User{ID: "u1", Username: "alice", Email: "a@x", BirthDate: "1990-01-01"})

	// No token.
	req := httptest.NewRequest(http.MethodGet, "/user?userId=u1", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", w.Code)
	}

	// Bad token.
	req = httptest.NewRequest(http.MethodGet, "/user?userId=u1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("bad-token status = %d, want 403", w.Code)
	}

	// Valid token.
	token, err := auth.NewTokenManager("test-secret", "messenger-test").Issue("u1", "alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/user?userId=u1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid-token status = %d, want 200 (body: %s)", w.Code, w.Body)
	}

	var p user.Public
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("user response is not JSON: %v", err)
	}
	if p.ID != "u1" || p.Username != "alice" {
		t.Errorf("user projection = %+v", p)
	}
}

func TestUsersList(t *testing.T) {
	_, users, _, mux := newTestAPI(t)
	users.Create(context.Background(), &user.User{ID: "u1", Username: "alice", Email: "a@x"})
	users.Create(context.Background(), &user.User{ID: "u2", Username: "bob", Email: "b@x"})

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("users status = %d, want 200", w.Code)
	}

	var list []user.Public
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("users response is not JSON: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("users list has %d entries, want 2", len(list))
	}
}

func TestMessagesEndpoint(t *testing.T) {
	_, _, messages, mux := newTestAPI(t)
	messages.messages = []store.Message{
		{SenderID: "u1", RecipientID: "u2", Body: "hi", Timestamp: 1000},
		{SenderID: "u2", RecipientID: "u1", Body: "hey", Timestamp: 1001},
		{SenderID: "u1", RecipientID: "u3", Body: "other", Timestamp: 1002},
	}

	req := httptest.NewRequest(http.MethodGet, "/messages?myUserId=u1&recipientId=u2", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("messages status = %d, want 200", w.Code)
	}

	var got []store.Message
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("messages response is not JSON: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(got))
	}

	// Missing parameters are rejected.
	req = httptest.NewRequest(http.MethodGet, "/messages?myUserId=u1", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing-param status = %d, want 400", w.Code)
	}
}
