package dto

import (
	"encoding/json"
	"time"

	"agroscan/internal/model"
)

// CredentialsRequest is the body of /auth/signin and /auth/signup.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the signed-in user as shown to the page.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionResponse is returned on sign-in and sign-up. The token is also set
// as the session cookie.
type SessionResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// DetectionOutcome is the result of an upload or capture. Informational
// outcomes carry only a message, e.g. when nothing was detected.
type DetectionOutcome struct {
	Detection       *model.Detection `json:"detection"`
	Message         string           `json:"message,omitempty"`
	Informational   bool             `json:"informational"`
	TotalDetections int              `json:"totalDetections,omitempty"`
	ImageSize       *ImageSize       `json:"imageSize,omitempty"`
	PreviewURL      string           `json:"previewUrl,omitempty"`
}

// SaveRequest optionally names the detection to save; without it the current
// result is saved.
type SaveRequest struct {
	Detection *model.Detection `json:"detection"`
}

// LiveResponse reports the live detection toggle result.
type LiveResponse struct {
	Live bool `json:"live"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status     string          `json:"status"`
	Uptime     string          `json:"uptime"`
	APIHealthy bool            `json:"apiHealthy"`
	Inference  *HealthResponse `json:"inference,omitempty"`
}

// DetectionEntry is a history row with display friendly date and time.
type DetectionEntry struct {
	model.DetectionRecord
}

// MarshalJSON adds day and timeOfDay fields derived from the record timestamp.
func (e DetectionEntry) MarshalJSON() ([]byte, error) {
	type Alias model.DetectionRecord
	t := e.Time().UTC()
	return json.Marshal(&struct {
		Day       string `json:"day"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Day:       t.Format("02-01-2006"),
		TimeOfDay: t.Format("15:04"),
		Alias:     (Alias)(e.DetectionRecord),
	})
}

// NewDetectionEntries wraps records for the history response.
func NewDetectionEntries(records []model.DetectionRecord) []DetectionEntry {
	entries := make([]DetectionEntry, len(records))
	for i, r := range records {
		entries[i] = DetectionEntry{DetectionRecord: r}
	}
	return entries
}
