// Package session owns authentication and session persistence. A session
// is acquired by exchanging a stable device identifier for a token pair,
// survives process restarts through the store, and is read-only to every
// other component.
package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var ErrInvalidNickname = errors.New("nickname must be 3-20 characters")
var ErrNoSession = errors.New("no stored session")

const authPath = "/v2/account/authenticate/device"

type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
	UserID       string    `json:"user_id"`
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// sessionClaims mirrors the token claims the identity provider signs.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	Username string `json:"usn"`
}

// FromTokens builds a Session by decoding the unverified token claims.
// The client has no signing key; it trusts the authenticated transport and
// only needs uid, usn, and exp out of the payload.
func FromTokens(token, refresh string, now time.Time) (Session, error) {
	var claims sessionClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Session{}, fmt.Errorf("decode session token: %w", err)
	}
	sess := Session{
		Token:        token,
		RefreshToken: refresh,
		CreatedAt:    now,
		Username:     claims.Username,
		UserID:       claims.UserID,
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

// DeviceID derives a stable device identifier from the nickname and a
// deployment-wide salt, so the same nickname maps to the same account.
func DeviceID(salt, nickname string) string {
	sum := sha256.Sum256([]byte(salt + ":" + nickname))
	return hex.EncodeToString(sum[:])
}

type Manager struct {
	httpc     *http.Client
	baseURL   string
	serverKey string
	salt      string
	store     *Store
	log       *zap.Logger

	current *Session
}

func NewManager(baseURL, serverKey, salt string, store *Store, log *zap.Logger) *Manager {
	return &Manager{
		httpc:     &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		serverKey: serverKey,
		salt:      salt,
		store:     store,
		log:       log.Named("session"),
	}
}

// Authenticate validates the nickname, exchanges the derived device id for
// a token pair, and persists the resulting session.
func (m *Manager) Authenticate(ctx context.Context, nickname string) (Session, error) {
	nick := strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nick); n < 3 || n > 20 {
		return Session{}, ErrInvalidNickname
	}

	body, err := json.Marshal(struct {
		ID string `json:"id"`
	}{ID: DeviceID(m.salt, nick)})
	if err != nil {
		return Session{}, err
	}

	endpoint := m.baseURL + authPath + "?create=true&username=" + url.QueryEscape(nick)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(m.serverKey, "")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Session{}, fmt.Errorf("authenticate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tokens struct {
		Token        string `json:"token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return Session{}, fmt.Errorf("authenticate: decode response: %w", err)
	}

	sess, err := FromTokens(tokens.Token, tokens.RefreshToken, time.Now())
	if err != nil {
		return Session{}, err
	}
	if sess.Username == "" {
		sess.Username = nick
	}
	if err := m.store.Save(sess); err != nil {
		m.log.Warn("persist session", zap.Error(err))
	}
	m.current = &sess
	m.log.Info("authenticated", zap.String("user_id", sess.UserID), zap.String("username", sess.Username))
	return sess, nil
}

// Restore reconstructs a usable session from the store without
// re-authenticating. Absent or expired records yield ErrNoSession; an
// expired record is cleared on the way out.
func (m *Manager) Restore() (Session, error) {
	sess, err := m.store.Load()
	if err != nil {
		return Session{}, ErrNoSession
	}
	if sess.Expired(time.Now()) {
		m.log.Info("stored session expired", zap.Time("expires_at", sess.ExpiresAt))
		m.store.Clear()
		return Session{}, ErrNoSession
	}
	m.current = &sess
	return sess, nil
}

// Disconnect clears the in-memory and persisted session unconditionally.
func (m *Manager) Disconnect() {
	m.current = nil
	m.store.Clear()
}

func (m *Manager) Current() (Session, bool) {
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}
