// Package auth signs users in with Google and keeps them signed in with a
// server-side session cookie.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/ports"
)

const (
	SessionCookie = "kakeibo_session"
	StateCookie   = "kakeibo_oauth_state"

	ModeGoogle = "google"
	ModeDev    = "dev"

	stateTTL = 10 * time.Minute
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Store interface {
	ports.UserStore
	ports.SessionStore
}

type Config struct {
	Mode         string
	DevUserEmail string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	SessionTTL   time.Duration
	// SecureCookies marks cookies Secure; set when served over HTTPS.
	SecureCookies bool
}

// Service handles the login flow and resolves the current user.
type Service struct {
	store  Store
	cfg    Config
	oauth  *oauth2.Config
	logger *applog.Logger

	// OnSignIn runs after a user signs in, e.g. to seed default data.
	OnSignIn func(ctx context.Context, userID string) error

	exchange  func(ctx context.Context, code string) (*oauth2.Token, error)
	fetchUser func(ctx context.Context, tok *oauth2.Token) (core.User, error)
	newToken  func() string
	now       func() time.Time
}

func NewService(store Store, cfg Config, logger *applog.Logger) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	s := &Service{
		store:  store,
		cfg:    cfg,
		logger: logger.WithComponent(applog.ComponentAuth),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{oauth2api.UserinfoEmailScope, oauth2api.UserinfoProfileScope},
		},
		newToken: uuid.NewString,
		now:      time.Now,
	}
	s.exchange = func(ctx context.Context, code string) (*oauth2.Token, error) {
		return s.oauth.Exchange(ctx, code)
	}
	s.fetchUser = s.googleUser
	return s
}

func (s *Service) DevMode() bool { return s.cfg.Mode == ModeDev }

func (s *Service) googleUser(ctx context.Context, tok *oauth2.Token) (core.User, error) {
	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(s.oauth.TokenSource(ctx, tok)))
	if err != nil {
		return core.User{}, fmt.Errorf("create userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return core.User{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	if info.Email == "" || (info.VerifiedEmail != nil && !*info.VerifiedEmail) {
		return core.User{}, errors.New("google account has no verified email")
	}
	return core.User{Email: strings.ToLower(info.Email), Name: info.Name, Picture: info.Picture}, nil
}

func (s *Service) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// HandleLogin redirects to Google's consent page.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if s.DevMode() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	state := s.newToken()
	s.setCookie(w, StateCookie, state, stateTTL)
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback completes the OAuth exchange and starts a session.
func (s *Service) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "OAuth error: "+e, http.StatusBadRequest)
		return
	}
	c, err := r.Cookie(StateCookie)
	if err != nil || c.Value == "" || c.Value != q.Get("state") {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	s.clearCookie(w, StateCookie)

	tok, err := s.exchange(ctx, q.Get("code"))
	if err != nil {
		s.logger.ErrorContext(ctx, "OAuth token exchange failed", applog.FieldError, err)
		http.Error(w, "Sign-in failed", http.StatusBadGateway)
		return
	}
	profile, err := s.fetchUser(ctx, tok)
	if err != nil {
		s.logger.ErrorContext(ctx, "Fetching Google profile failed", applog.FieldError, err)
		http.Error(w, "Sign-in failed", http.StatusBadGateway)
		return
	}
	user, err := s.signIn(ctx, profile)
	if err != nil {
		s.logger.ErrorContext(ctx, "Sign-in failed", applog.FieldError, err)
		http.Error(w, "Sign-in failed", http.StatusInternalServerError)
		return
	}
	if err := s.startSession(ctx, w, user.ID); err != nil {
		s.logger.ErrorContext(ctx, "Creating session failed", applog.FieldError, err)
		http.Error(w, "Sign-in failed", http.StatusInternalServerError)
		return
	}
	s.logger.InfoContext(ctx, "User signed in", applog.FieldUserID, user.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Service) signIn(ctx context.Context, profile core.User) (core.User, error) {
	if profile.ID == "" {
		profile.ID = s.newToken()
	}
	user, err := s.store.UpsertUser(ctx, profile)
	if err != nil {
		return core.User{}, fmt.Errorf("upsert user: %w", err)
	}
	if s.OnSignIn != nil {
		if err := s.OnSignIn(ctx, user.ID); err != nil {
			return core.User{}, fmt.Errorf("after sign-in: %w", err)
		}
	}
	return user, nil
}

func (s *Service) startSession(ctx context.Context, w http.ResponseWriter, userID string) error {
	sess := core.Session{
		Token:     s.newToken(),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.cfg.SessionTTL),
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return err
	}
	s.setCookie(w, SessionCookie, sess.Token, s.cfg.SessionTTL)
	return nil
}

// HandleLogout ends the current session.
func (s *Service) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if err := s.store.DeleteSession(r.Context(), c.Value); err != nil && !errors.Is(err, ports.ErrNotFound) {
			s.logger.WarnContext(r.Context(), "Deleting session failed", applog.FieldError, err)
		}
	}
	s.clearCookie(w, SessionCookie)
	w.WriteHeader(http.StatusNoContent)
}

// Authenticate resolves the user of a request.
func (s *Service) Authenticate(r *http.Request) (core.User, error) {
	ctx := r.Context()
	if s.DevMode() {
		return s.signIn(ctx, core.User{Email: s.cfg.DevUserEmail, Name: "Developer"})
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return core.User{}, ErrUnauthenticated
	}
	sess, err := s.store.GetSession(ctx, c.Value)
	if errors.Is(err, ports.ErrNotFound) {
		return core.User{}, ErrUnauthenticated
	}
	if err != nil {
		return core.User{}, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(s.now()) {
		_ = s.store.DeleteSession(ctx, sess.Token)
		return core.User{}, fmt.Errorf("%w: %w", ErrUnauthenticated, core.ErrSessionExpired)
	}
	user, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, ports.ErrNotFound) {
		return core.User{}, ErrUnauthenticated
	}
	return user, err
}

type userKey struct{}

func WithUser(ctx context.Context, u core.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func UserFromContext(ctx context.Context) (core.User, bool) {
	u, ok := ctx.Value(userKey{}).(core.User)
	return u, ok
}

// RequireUser rejects unauthenticated requests with 401 and puts the user
// into the request context otherwise.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrUnauthenticated) {
				s.logger.ErrorContext(r.Context(), "Authentication failed", applog.FieldError, err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		ctx := WithUser(r.Context(), user)
		slog.DebugContext(ctx, "Authenticated request", applog.FieldUserID, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
