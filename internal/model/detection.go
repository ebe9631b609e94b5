package model

import (
	"strings"
	"time"
)

// Severity is the urgency the inference service attaches to a disease label.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// BoundingBox is the detected region in source image pixels.
type BoundingBox struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is the best classification returned by the inference service.
type Detection struct {
	Class          string       `json:"class"`
	ClassID        int          `json:"class_id"`
	Confidence     float64      `json:"confidence"`
	Threshold      float64      `json:"threshold,omitempty"`
	BBox           *BoundingBox `json:"bbox,omitempty"`
	Recommendation string       `json:"recommendation"`
	Severity       Severity     `json:"severity"`
}

// DisplayName turns the underscore-separated label into words.
func (d Detection) DisplayName() string {
	return strings.ReplaceAll(d.Class, "_", " ")
}

// DetectionRecord is a saved detection. ID is the store's key and is not part
// of the stored body.
type DetectionRecord struct {
	ID             string   `json:"id,omitempty"`
	Class          string   `json:"class"`
	Confidence     float64  `json:"confidence"`
	Severity       Severity `json:"severity"`
	Recommendation string   `json:"recommendation"`
	Timestamp      int64    `json:"timestamp"` // epoch milliseconds
	Date           string   `json:"date"`      // ISO-8601
}

// NewDetectionRecord snapshots a detection at the given instant.
func NewDetectionRecord(d Detection, now time.Time) DetectionRecord {
	return DetectionRecord{
		Class:          d.Class,
		Confidence:     d.Confidence,
		Severity:       d.Severity,
		Recommendation: d.Recommendation,
		Timestamp:      now.UnixMilli(),
		Date:           now.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// Time returns the record timestamp as a time.Time.
func (r DetectionRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}
