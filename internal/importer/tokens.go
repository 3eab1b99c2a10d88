package importer

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes requested at sign-in. All are read-only.
var Scopes = []string{
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/tasks.readonly",
	"https://www.googleapis.com/auth/contacts.readonly",
}

const defaultAuthEndpoint = "https://accounts.google.com/o/oauth2/v2/auth"

// OAuthConfig describes the implicit-grant consent request.
type OAuthConfig struct {
	ClientID     string
	RedirectURI  string
	AuthEndpoint string
}

// AuthURL builds the consent URL. The token comes back in the redirect
// fragment, to be passed to ParseFragment.
func (c OAuthConfig) AuthURL(state string) string {
	endpoint := c.AuthEndpoint
	if endpoint == "" {
		endpoint = defaultAuthEndpoint
	}
	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("response_type", "token")
	q.Set("scope", strings.Join(Scopes, " "))
	q.Set("include_granted_scopes", "true")
	if state != "" {
		q.Set("state", state)
	}
	return endpoint + "?" + q.Encode()
}

// Token is a bearer credential valid until Expiry.
type Token struct {
	AccessToken string    `json:"-"`
	Expiry      time.Time `json:"expiry"`
	Account     string    `json:"account,omitempty"`
}

// ParseFragment reads access_token, expires_in and the optional id_token
// from an implicit-grant redirect fragment. The id_token is only used to
// name the account and is not verified.
func ParseFragment(fragment string, now time.Time) (Token, error) {
	params, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return Token{}, &AuthError{Err: fmt.Errorf("parse fragment: %w", err)}
	}
	if e := params.Get("error"); e != "" {
		return Token{}, &AuthError{Err: fmt.Errorf("consent refused: %s", e)}
	}

	access := params.Get("access_token")
	if access == "" {
		return Token{}, &AuthError{Err: fmt.Errorf("fragment has no access_token")}
	}
	secs, err := strconv.Atoi(params.Get("expires_in"))
	if err != nil || secs <= 0 {
		return Token{}, &AuthError{Err: fmt.Errorf("invalid expires_in %q", params.Get("expires_in"))}
	}

	tok := Token{
		AccessToken: access,
		Expiry:      now.Add(time.Duration(secs) * time.Second),
	}
	if idToken := params.Get("id_token"); idToken != "" {
		tok.Account = accountFromIDToken(idToken)
	}
	return tok, nil
}

func accountFromIDToken(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	if sub, err := claims.GetSubject(); err == nil {
		return sub
	}
	return ""
}

// Tokens holds the session's credential in memory only.
type Tokens struct {
	now func() time.Time

	mu  sync.RWMutex
	tok *Token
}

func NewTokens() *Tokens {
	return &Tokens{now: time.Now}
}

func (t *Tokens) Set(tok Token) {
	t.mu.Lock()
	t.tok = &tok
	t.mu.Unlock()
}

func (t *Tokens) Clear() {
	t.mu.Lock()
	t.tok = nil
	t.mu.Unlock()
}

// Valid returns the current token, or an *AuthError when there is none or
// it has expired.
func (t *Tokens) Valid() (Token, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tok == nil {
		return Token{}, &AuthError{Err: ErrNotSignedIn}
	}
	if !t.now().Before(t.tok.Expiry) {
		return Token{}, &AuthError{Err: ErrTokenExpired}
	}
	return *t.tok, nil
}

// TokenStatus is the sign-in state shown to the user.
type TokenStatus struct {
	SignedIn bool      `json:"signed_in"`
	Account  string    `json:"account,omitempty"`
	Expiry   time.Time `json:"expiry"`
}

func (t *Tokens) Status() TokenStatus {
	tok, err := t.Valid()
	if err != nil {
		return TokenStatus{}
	}
	return TokenStatus{SignedIn: true, Account: tok.Account, Expiry: tok.Expiry}
}
