package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"agroscan/internal/logger"
	"agroscan/internal/model"
	"agroscan/internal/repository"

	"github.com/benbjohnson/clock"
)

// RefreshMargin is how long before expiry an ID token is renewed.
const RefreshMargin = 5 * time.Minute

// RefreshingRepository keeps the user's ID token valid across record store
// calls. A token close to expiry is renewed first, and a call the store
// rejects is retried once with a renewed token.
type RefreshingRepository struct {
	inner     repository.DetectionRepository
	refresher Refresher
	clock     clock.Clock
	logger    *logger.Logger
	mu        sync.Mutex // guards the token fields of every user passed in
}

func NewRefreshingRepository(inner repository.DetectionRepository, refresher Refresher, clk clock.Clock, logger *logger.Logger) *RefreshingRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &RefreshingRepository{
		inner:     inner,
		refresher: refresher,
		clock:     clk,
		logger:    logger,
	}
}

func (r *RefreshingRepository) Append(ctx context.Context, user *model.User, record model.DetectionRecord) (string, error) {
	var id string
	err := r.withToken(ctx, user, func(u *model.User) error {
		var err error
		id, err = r.inner.Append(ctx, u, record)
		return err
	})
	return id, err
}

func (r *RefreshingRepository) FetchRecent(ctx context.Context, user *model.User, limit int) ([]model.DetectionRecord, error) {
	var records []model.DetectionRecord
	err := r.withToken(ctx, user, func(u *model.User) error {
		var err error
		records, err = r.inner.FetchRecent(ctx, u, limit)
		return err
	})
	return records, err
}

func (r *RefreshingRepository) withToken(ctx context.Context, user *model.User, call func(*model.User) error) error {
	if user == nil {
		return call(nil)
	}

	current, _ := r.credentials(ctx, user, "")
	err := call(current)
	if !errors.Is(err, repository.ErrNotAuthorized) {
		return err
	}

	renewed, ok := r.credentials(ctx, user, current.IDToken)
	if !ok {
		return err
	}
	return call(renewed)
}

// credentials returns a snapshot of the user's tokens, renewing them first
// when they are about to expire or equal the rejected token. ok reports
// whether the snapshot carries a token other than rejected.
func (r *RefreshingRepository) credentials(ctx context.Context, user *model.User, rejected string) (*model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := !user.ExpiresAt.IsZero() && !r.clock.Now().Before(user.ExpiresAt.Add(-RefreshMargin))
	if rejected != "" {
		due = user.IDToken == rejected
	}

	if due {
		fresh, err := r.refresher.Refresh(ctx, user)
		if err != nil {
			r.logger.Warning("Token refresh failed for %s: %v", user.Email, err)
		} else {
			user.IDToken = fresh.IDToken
			user.RefreshToken = fresh.RefreshToken
			user.ExpiresAt = fresh.ExpiresAt
			r.logger.Info("ID token renewed for %s", user.Email)
		}
	}

	snapshot := *user
	return &snapshot, snapshot.IDToken != rejected
}
