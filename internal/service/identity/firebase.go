package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/model"
)

var (
	// ErrInvalidCredentials is returned when the email or password is wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailExists is returned by SignUp for an email that already has an account.
	ErrEmailExists = errors.New("email already in use")
	// ErrWeakPassword is returned by SignUp when the password is too short.
	ErrWeakPassword = errors.New("password should be at least 6 characters")
	// ErrInvalidEmail is returned for a malformed email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrTooManyAttempts is returned when the provider throttles the account.
	ErrTooManyAttempts = errors.New("too many attempts, try again later")
	// ErrMissingCredentials is returned before contacting the provider.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrTokenRevoked is returned when a refresh token is expired, revoked or missing.
	ErrTokenRevoked = errors.New("sign-in expired, please sign in again")
)

// DefaultTokenURL is the secure token service root used to renew ID tokens.
const DefaultTokenURL = "https://securetoken.googleapis.com/v1"

// Refresher exchanges a user's refresh token for a new ID token.
type Refresher interface {
	Refresh(ctx context.Context, user *model.User) (*model.User, error)
}

// Provider signs users in and up with email and password.
type Provider interface {
	Refresher
	SignIn(ctx context.Context, email, password string) (*model.User, error)
	SignUp(ctx context.Context, email, password string) (*model.User, error)
}

// ProviderError is an error reply the client does not map to a sentinel.
type ProviderError struct {
	StatusCode int
	Code       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("identity provider error %d: %s", e.StatusCode, e.Code)
}

// FirebaseClient uses the Firebase Auth REST API.
type FirebaseClient struct {
	baseURL    string
	tokenURL   string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewFirebaseClient creates a client for the configured project.
func NewFirebaseClient(cfg *config.Config) *FirebaseClient {
	client := NewFirebaseClientWithHTTP(cfg.FirebaseAuthURL, cfg.FirebaseAPIKey, &http.Client{Timeout: 15 * time.Second})
	if cfg.FirebaseTokenURL != "" {
		client.tokenURL = strings.TrimRight(cfg.FirebaseTokenURL, "/")
	}
	return client
}

// NewFirebaseClientWithHTTP creates a client against baseURL (the identitytoolkit v1 root).
func NewFirebaseClientWithHTTP(baseURL, apiKey string, httpClient *http.Client) *FirebaseClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &FirebaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokenURL:   DefaultTokenURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// SignIn authenticates an existing account.
func (c *FirebaseClient) SignIn(ctx context.Context, email, password string) (*model.User, error) {
	return c.authenticate(ctx, "accounts:signInWithPassword", email, password)
}

// SignUp creates an account and signs it in.
func (c *FirebaseClient) SignUp(ctx context.Context, email, password string) (*model.User, error) {
	return c.authenticate(ctx, "accounts:signUp", email, password)
}

type authRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// WithTokenURL points Refresh at another secure token service root.
func (c *FirebaseClient) WithTokenURL(tokenURL string) *FirebaseClient {
	c.tokenURL = strings.TrimRight(tokenURL, "/")
	return c
}

func (c *FirebaseClient) authenticate(ctx context.Context, endpoint, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	payload, err := json.Marshal(authRequest{Email: email, Password: password, ReturnSecureToken: true})
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/%s?key=%s", c.baseURL, endpoint, url.QueryEscape(c.apiKey))
	var ar authResponse
	if err := c.post(ctx, u, "application/json", payload, &ar); err != nil {
		return nil, err
	}

	return &model.User{
		ID:           ar.LocalID,
		Email:        ar.Email,
		IDToken:      ar.IDToken,
		RefreshToken: ar.RefreshToken,
		ExpiresAt:    c.expiresAt(ar.ExpiresIn),
	}, nil
}

// Refresh trades the user's refresh token for a new ID token. The user is not
// modified; the returned copy carries the new tokens and expiry.
func (c *FirebaseClient) Refresh(ctx context.Context, user *model.User) (*model.User, error) {
	if user == nil || user.RefreshToken == "" {
		return nil, ErrTokenRevoked
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {user.RefreshToken},
	}
	u := fmt.Sprintf("%s/token?key=%s", c.tokenURL, url.QueryEscape(c.apiKey))
	var rr refreshResponse
	if err := c.post(ctx, u, "application/x-www-form-urlencoded", []byte(form.Encode()), &rr); err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	refreshed := *user
	refreshed.IDToken = rr.IDToken
	if rr.RefreshToken != "" {
		refreshed.RefreshToken = rr.RefreshToken
	}
	refreshed.ExpiresAt = c.expiresAt(rr.ExpiresIn)
	return &refreshed, nil
}

func (c *FirebaseClient) post(ctx context.Context, u, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		return mapProviderError(resp.StatusCode, e.Error.Message)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}
	return nil
}

func (c *FirebaseClient) expiresAt(expiresIn string) time.Time {
	secs, err := strconv.Atoi(expiresIn)
	if err != nil {
		return time.Time{}
	}
	return c.now().Add(time.Duration(secs) * time.Second)
}

// mapProviderError turns provider codes like "WEAK_PASSWORD : Password should be..." into sentinels.
func mapProviderError(status int, message string) error {
	code := strings.TrimSpace(strings.SplitN(message, ":", 2)[0])

	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "USER_DISABLED":
		return ErrInvalidCredentials
	case "EMAIL_EXISTS":
		return ErrEmailExists
	case "WEAK_PASSWORD":
		return ErrWeakPassword
	case "INVALID_EMAIL", "MISSING_EMAIL":
		return ErrInvalidEmail
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return ErrTooManyAttempts
	case "MISSING_PASSWORD":
		return ErrMissingCredentials
	case "TOKEN_EXPIRED", "INVALID_REFRESH_TOKEN", "MISSING_REFRESH_TOKEN", "USER_NOT_FOUND":
		return ErrTokenRevoked
	}
	return &ProviderError{StatusCode: status, Code: code}
}
