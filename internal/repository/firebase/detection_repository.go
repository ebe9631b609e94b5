package firebase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"agroscan/internal/model"
	"agroscan/internal/repository"
)

// ErrMissingUser is returned when a call has no user id to namespace under.
var ErrMissingUser = errors.New("user id is required")

// DetectionRepository implements repository.DetectionRepository on the
// Realtime Database REST API. Records live at detections/{userId}/{pushId}.
type DetectionRepository struct {
	databaseURL string
	httpClient  *http.Client
}

// NewDetectionRepository creates a repository for the given database URL.
func NewDetectionRepository(databaseURL string, httpClient *http.Client) *DetectionRepository {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &DetectionRepository{
		databaseURL: strings.TrimRight(databaseURL, "/"),
		httpClient:  httpClient,
	}
}

// storedRecord is the body written under the push id; the id itself is the key.
type storedRecord struct {
	Class          string         `json:"class"`
	Confidence     float64        `json:"confidence"`
	Severity       model.Severity `json:"severity"`
	Recommendation string         `json:"recommendation"`
	Timestamp      int64          `json:"timestamp"`
	Date           string         `json:"date"`
}

// Append pushes a new child under detections/{userId}.
func (r *DetectionRepository) Append(ctx context.Context, user *model.User, record model.DetectionRecord) (string, error) {
	if user == nil || user.ID == "" {
		return "", ErrMissingUser
	}

	body, err := json.Marshal(storedRecord{
		Class:          record.Class,
		Confidence:     record.Confidence,
		Severity:       record.Severity,
		Recommendation: record.Recommendation,
		Timestamp:      record.Timestamp,
		Date:           record.Date,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode detection: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.namespaceURL(user, nil), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build append request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var pushed struct {
		Name string `json:"name"`
	}
	if err := r.do(req, &pushed); err != nil {
		return "", fmt.Errorf("failed to save detection: %w", err)
	}
	return pushed.Name, nil
}

// FetchRecent reads the last limit children ordered by timestamp.
func (r *DetectionRepository) FetchRecent(ctx context.Context, user *model.User, limit int) ([]model.DetectionRecord, error) {
	if user == nil || user.ID == "" {
		return nil, ErrMissingUser
	}

	params := url.Values{}
	params.Set("orderBy", `"timestamp"`)
	if limit > 0 {
		params.Set("limitToLast", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.namespaceURL(user, params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build history request: %w", err)
	}

	// The namespace is absent (null) until the first append.
	var children map[string]storedRecord
	if err := r.do(req, &children); err != nil {
		return nil, fmt.Errorf("failed to fetch detection history: %w", err)
	}

	records := make([]model.DetectionRecord, 0, len(children))
	for id, c := range children {
		records = append(records, model.DetectionRecord{
			ID:             id,
			Class:          c.Class,
			Confidence:     c.Confidence,
			Severity:       c.Severity,
			Recommendation: c.Recommendation,
			Timestamp:      c.Timestamp,
			Date:           c.Date,
		})
	}
	// map iteration order is random; make ties deterministic before ordering
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return repository.NewestFirst(records, limit), nil
}

func (r *DetectionRepository) namespaceURL(user *model.User, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if user.IDToken != "" {
		params.Set("auth", user.IDToken)
	}

	u := fmt.Sprintf("%s/detections/%s.json", r.databaseURL, url.PathEscape(user.ID))
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (r *DetectionRepository) do(req *http.Request, out interface{}) error {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return repository.ErrNotAuthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("database returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("database returned %d", resp.StatusCode)
	}

	return json.Unmarshal(data, out)
}
