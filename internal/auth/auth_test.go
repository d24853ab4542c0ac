package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/ports/memory"
)

func newTestService(t *testing.T, mode string) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	s := NewService(store, Config{
		Mode:         mode,
		DevUserEmail: "dev@example.com",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/callback",
		SessionTTL:   time.Hour,
	}, applog.New(applog.Config{Output: io.Discard}))
	n := 0
	s.newToken = func() string {
		n++
		return "tok-" + string(rune('a'+n))
	}
	s.exchange = func(_ context.Context, code string) (*oauth2.Token, error) {
		if code != "good" {
			return nil, errors.New("bad code")
		}
		return &oauth2.Token{AccessToken: "access"}, nil
	}
	s.fetchUser = func(context.Context, *oauth2.Token) (core.User, error) {
		return core.User{Email: "hanako@example.com", Name: "Hanako"}, nil
	}
	return s, store
}

func cookieNamed(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandleLoginSetsState(t *testing.T) {
	s, _ := newTestService(t, ModeGoogle)
	rec := httptest.NewRecorder()
	s.HandleLogin(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	res := rec.Result()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("status %d", res.StatusCode)
	}
	state := cookieNamed(res, StateCookie)
	if state == nil || state.Value == "" || !state.HttpOnly {
		t.Fatalf("missing state cookie: %+v", state)
	}
	loc, err := url.Parse(res.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "accounts.google.com" || loc.Query().Get("state") != state.Value {
		t.Fatalf("unexpected redirect %s", loc)
	}
}

func TestHandleCallback(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		cookie     string
		wantStatus int
	}{
		{name: "success", query: "state=s1&code=good", cookie: "s1", wantStatus: http.StatusFound},
		{name: "state mismatch", query: "state=s2&code=good", cookie: "s1", wantStatus: http.StatusBadRequest},
		{name: "no state cookie", query: "state=s1&code=good", wantStatus: http.StatusBadRequest},
		{name: "provider error", query: "error=access_denied", cookie: "s1", wantStatus: http.StatusBadRequest},
		{name: "exchange failure", query: "state=s1&code=bad", cookie: "s1", wantStatus: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestService(t, ModeGoogle)
			var seeded []string
			s.OnSignIn = func(_ context.Context, id string) error {
				seeded = append(seeded, id)
				return nil
			}

			req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+tt.query, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: StateCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			s.HandleCallback(rec, req)

			res := rec.Result()
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status %d, want %d", res.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusFound {
				return
			}
			sc := cookieNamed(res, SessionCookie)
			if sc == nil || sc.Value == "" {
				t.Fatal("missing session cookie")
			}
			sess, err := store.GetSession(context.Background(), sc.Value)
			if err != nil {
				t.Fatalf("session not stored: %v", err)
			}
			u, err := store.GetUser(context.Background(), sess.UserID)
			if err != nil || u.Email != "hanako@example.com" {
				t.Fatalf("user = %+v, %v", u, err)
			}
			if len(seeded) != 1 || seeded[0] != u.ID {
				t.Fatalf("OnSignIn calls %v", seeded)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, ModeGoogle)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	user, _ := store.UpsertUser(ctx, core.User{ID: "u1", Email: "a@example.com"})
	_ = store.SaveSession(ctx, core.Session{Token: "live", UserID: user.ID, ExpiresAt: now.Add(time.Hour)})
	_ = store.SaveSession(ctx, core.Session{Token: "old", UserID: user.ID, ExpiresAt: now.Add(-time.Second)})

	h := s.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			t.Error("no user in context")
		}
		_, _ = io.WriteString(w, u.ID)
	}))

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid session", "live", http.StatusOK},
		{"expired session", "old", http.StatusUnauthorized},
		{"unknown session", "nope", http.StatusUnauthorized},
		{"no cookie", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.token != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.token})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != "u1" {
				t.Fatalf("body %q", rec.Body.String())
			}
		})
	}

	if _, err := store.GetSession(ctx, "old"); err == nil {
		t.Fatal("expired session should be deleted")
	}
}

func TestDevModeSignsInConfiguredUser(t *testing.T) {
	s, _ := newTestService(t, ModeDev)
	h := s.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := UserFromContext(r.Context())
		_, _ = io.WriteString(w, u.Email)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "dev@example.com" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandleLogout(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, ModeGoogle)
	_ = store.SaveSession(ctx, core.Session{Token: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "live"})
	rec := httptest.NewRecorder()
	s.HandleLogout(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if _, err := store.GetSession(ctx, "live"); err == nil {
		t.Fatal("session still stored")
	}
	if c := cookieNamed(rec.Result(), SessionCookie); c == nil || c.MaxAge >= 0 || !strings.EqualFold(c.Value, "") {
		t.Fatalf("session cookie not cleared: %+v", c)
	}
}

func TestExchangeUsesTokenEndpoint(t *testing.T) {
	var gotCode string
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotCode = r.PostForm.Get("code")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	s := NewService(memory.New(), Config{
		Mode:         ModeGoogle,
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/callback",
	}, applog.New(applog.Config{Output: io.Discard}))
	s.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:   tokenSrv.URL + "/auth",
		TokenURL:  tokenSrv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}

	tok, err := s.exchange(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tok.AccessToken != "access-1" {
		t.Errorf("access token = %q", tok.AccessToken)
	}
	if gotCode != "code-123" {
		t.Errorf("token endpoint got code %q", gotCode)
	}
}
