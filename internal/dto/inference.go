package dto

import "agroscan/internal/model"

// ImageSize is the decoded size of the submitted image.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectResponse is the body of POST /api/detect on the inference service.
// Success with a nil Detection means nothing was found above threshold.
type DetectResponse struct {
	Success         bool             `json:"success"`
	Detection       *model.Detection `json:"detection"`
	Message         string           `json:"message,omitempty"`
	TotalDetections int              `json:"total_detections,omitempty"`
	ImageSize       *ImageSize       `json:"image_size,omitempty"`
}

// HealthResponse is the body of GET /health on the inference service.
type HealthResponse struct {
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Classes int    `json:"classes,omitempty"`
}

// Healthy reports whether the service has its model loaded.
func (h HealthResponse) Healthy() bool {
	return h.Status == "healthy"
}
