package identity

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/repository"
	"agroscan/internal/repository/firebase"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========================================
// Secure token endpoint
// ========================================

func TestFirebaseClient_Refresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "ref-1", r.PostForm.Get("refresh_token"))

		io.WriteString(w, `{"id_token":"tok-2","refresh_token":"ref-2","expires_in":"3600","user_id":"uid-1"}`)
	}))
	defer server.Close()

	client := NewFirebaseClientWithHTTP("http://unused", "test-key", server.Client()).WithTokenURL(server.URL + "/")
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }
	user := &model.User{ID: "uid-1", Email: "farmer@example.com", IDToken: "tok-1", RefreshToken: "ref-1"}

	fresh, err := client.Refresh(context.Background(), user)

	require.NoError(t, err)
	assert.Equal(t, "tok-2", fresh.IDToken)
	assert.Equal(t, "ref-2", fresh.RefreshToken)
	assert.Equal(t, fixed.Add(time.Hour), fresh.ExpiresAt)
	assert.Equal(t, "farmer@example.com", fresh.Email)
	assert.Equal(t, "tok-1", user.IDToken, "input is not modified")
}

func TestFirebaseClient_RefreshRevoked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"TOKEN_EXPIRED"}}`)
	}))
	defer server.Close()

	client := NewFirebaseClientWithHTTP("http://unused", "k", server.Client()).WithTokenURL(server.URL)

	_, err := client.Refresh(context.Background(), &model.User{ID: "uid-1", RefreshToken: "old"})
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = client.Refresh(context.Background(), &model.User{ID: "uid-1"})
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

// ========================================
// Refreshing repository
// ========================================

// tokenAuthority plays both the secure token service and a Realtime Database
// that only accepts ID tokens younger than an hour.
type tokenAuthority struct {
	mu      sync.Mutex
	clock   *clock.Mock
	issued  map[string]time.Time
	serial  int
	renewed int
}

func newTokenAuthority(mock *clock.Mock) *tokenAuthority {
	return &tokenAuthority{clock: mock, issued: make(map[string]time.Time)}
}

func (a *tokenAuthority) issue() string {
	a.serial++
	token := "tok-" + string(rune('0'+a.serial))
	a.issued[token] = a.clock.Now()
	return token
}

func (a *tokenAuthority) renewals() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renewed
}

func (a *tokenAuthority) tokenHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.renewed++
	io.WriteString(w, `{"id_token":"`+a.issue()+`","refresh_token":"ref","expires_in":"3600"}`)
}

func (a *tokenAuthority) databaseHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	issuedAt, ok := a.issued[r.URL.Query().Get("auth")]
	valid := ok && a.clock.Since(issuedAt) < time.Hour
	a.mu.Unlock()

	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":"Permission denied"}`)
		return
	}
	if r.Method == http.MethodPost {
		io.WriteString(w, `{"name":"-NxPush"}`)
		return
	}
	io.WriteString(w, `null`)
}

func TestRefreshingRepository_SaveAfterTokenExpiry(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC))
	authority := newTokenAuthority(mock)

	tokens := httptest.NewServer(http.HandlerFunc(authority.tokenHandler))
	defer tokens.Close()
	database := httptest.NewServer(http.HandlerFunc(authority.databaseHandler))
	defer database.Close()

	client := NewFirebaseClientWithHTTP("http://unused", "k", tokens.Client()).WithTokenURL(tokens.URL)
	client.now = mock.Now
	repo := NewRefreshingRepository(firebase.NewDetectionRepository(database.URL, database.Client()), client, mock, logger.NewDiscard())

	authority.mu.Lock()
	user := &model.User{ID: "uid-1", Email: "farmer@example.com", IDToken: authority.issue(), RefreshToken: "ref", ExpiresAt: mock.Now().Add(time.Hour)}
	authority.mu.Unlock()
	record := model.DetectionRecord{Class: "Leaf_mold", Timestamp: mock.Now().UnixMilli()}

	_, err := repo.Append(context.Background(), user, record)
	require.NoError(t, err)
	assert.Equal(t, 0, authority.renewals())

	mock.Add(2 * time.Hour)

	id, err := repo.Append(context.Background(), user, record)
	require.NoError(t, err)
	assert.Equal(t, "-NxPush", id)
	assert.Equal(t, 1, authority.renewals())
	assert.True(t, user.ExpiresAt.After(mock.Now()))

	_, err = repo.FetchRecent(context.Background(), user, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, authority.renewals(), "fresh token is reused")
}

type stubRefresher struct {
	calls int
	user  *model.User
	err   error
}

func (s *stubRefresher) Refresh(ctx context.Context, user *model.User) (*model.User, error) {
	s.calls++
	return s.user, s.err
}

type rejectingRepo struct {
	accept string
	tokens []string
}

func (r *rejectingRepo) Append(ctx context.Context, user *model.User, record model.DetectionRecord) (string, error) {
	r.tokens = append(r.tokens, user.IDToken)
	if user.IDToken != r.accept {
		return "", repository.ErrNotAuthorized
	}
	return "-id", nil
}

func (r *rejectingRepo) FetchRecent(ctx context.Context, user *model.User, limit int) ([]model.DetectionRecord, error) {
	r.tokens = append(r.tokens, user.IDToken)
	if user.IDToken != r.accept {
		return nil, repository.ErrNotAuthorized
	}
	return []model.DetectionRecord{}, nil
}

func TestRefreshingRepository_RetriesOnceWhenRejected(t *testing.T) {
	mock := clock.NewMock()
	inner := &rejectingRepo{accept: "new"}
	refresher := &stubRefresher{user: &model.User{IDToken: "new", RefreshToken: "ref", ExpiresAt: mock.Now().Add(time.Hour)}}
	repo := NewRefreshingRepository(inner, refresher, mock, logger.NewDiscard())
	user := &model.User{ID: "uid-1", IDToken: "revoked", RefreshToken: "ref", ExpiresAt: mock.Now().Add(time.Hour)}

	_, err := repo.FetchRecent(context.Background(), user, 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"revoked", "new"}, inner.tokens)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, "new", user.IDToken)
}

func TestRefreshingRepository_RefreshFailureKeepsStoreError(t *testing.T) {
	mock := clock.NewMock()
	inner := &rejectingRepo{accept: "never"}
	refresher := &stubRefresher{err: errors.New("network down")}
	repo := NewRefreshingRepository(inner, refresher, mock, logger.NewDiscard())
	user := &model.User{ID: "uid-1", IDToken: "old", RefreshToken: "ref", ExpiresAt: mock.Now().Add(-time.Minute)}

	_, err := repo.Append(context.Background(), user, model.DetectionRecord{Class: "Leaf_mold"})

	assert.ErrorIs(t, err, repository.ErrNotAuthorized)
	assert.Equal(t, []string{"old"}, inner.tokens)
	assert.Equal(t, 2, refresher.calls)
	assert.Equal(t, "old", user.IDToken)
}
