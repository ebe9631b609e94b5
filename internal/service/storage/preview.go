package storage

import (
	"context"
	"net/http"
	"sync"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/logger"
	"agroscan/internal/model"

	"github.com/benbjohnson/clock"
)

// PrunePeriod is how often expired previews are dropped.
const PrunePeriod = time.Minute

// Preview is the frozen frame shown after a capture or upload.
type Preview struct {
	Data        []byte
	ContentType string
	Detection   *model.Detection
	CreatedAt   time.Time
}

// PreviewStore keeps the latest preview per session in memory.
type PreviewStore struct {
	previews map[string]Preview
	ttl      time.Duration
	clock    clock.Clock
	mu       sync.Mutex
	logger   *logger.Logger
}

// NewPreviewStore creates a store whose entries expire after cfg.PreviewTTL.
func NewPreviewStore(config *config.Config, logger *logger.Logger, clk clock.Clock) *PreviewStore {
	if clk == nil {
		clk = clock.New()
	}
	return &PreviewStore{
		previews: make(map[string]Preview),
		ttl:      config.PreviewTTL,
		clock:    clk,
		logger:   logger,
	}
}

// Run prunes expired previews until ctx is cancelled.
func (s *PreviewStore) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(PrunePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				s.logger.Info("Pruned %d expired previews", n)
			}
		}
	}
}

// Put replaces the session's preview.
func (s *PreviewStore) Put(token string, data []byte, contentType string, detection *model.Detection) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.previews[token] = Preview{
		Data:        data,
		ContentType: contentType,
		Detection:   detection,
		CreatedAt:   s.clock.Now(),
	}
}

// Get returns the session's preview if it has not expired.
func (s *PreviewStore) Get(token string) (Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.previews[token]
	if !ok || s.expired(p) {
		return Preview{}, false
	}
	return p, true
}

// Delete drops the session's preview.
func (s *PreviewStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.previews, token)
}

// Prune removes expired previews and returns how many were dropped.
func (s *PreviewStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for token, p := range s.previews {
		if s.expired(p) {
			delete(s.previews, token)
			pruned++
		}
	}
	return pruned
}

func (s *PreviewStore) expired(p Preview) bool {
	return s.ttl > 0 && s.clock.Since(p.CreatedAt) > s.ttl
}
