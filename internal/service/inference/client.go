package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"agroscan/internal/config"
	"agroscan/internal/dto"
)

// ErrEmptyImage is returned when Detect is called without image bytes.
var ErrEmptyImage = errors.New("empty image")

// APIError is a non-2xx reply from the inference service.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("inference service returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Detector is what the rest of the app needs from the inference service.
type Detector interface {
	Detect(ctx context.Context, image []byte, filename string) (*dto.DetectResponse, error)
	HealthCheck(ctx context.Context) (*dto.HealthResponse, error)
}

// Client talks to the disease detection HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the configured base URL.
func NewClient(cfg *config.Config) *Client {
	return NewClientWithHTTP(cfg.InferenceURL, &http.Client{Timeout: cfg.InferenceTimeout})
}

// NewClientWithHTTP creates a Client with a caller supplied http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// Detect uploads a JPEG image as multipart field "file".
func (c *Client) Detect(ctx context.Context, image []byte, filename string) (*dto.DetectResponse, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if filename == "" {
		filename = "frame.jpg"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", http.DetectContentType(image))
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result dto.DetectResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck queries GET /health.
func (c *Client) HealthCheck(ctx context.Context) (*dto.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build health request: %w", err)
	}

	var result dto.HealthResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read inference response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var detail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &detail) == nil {
			apiErr.Detail = detail.Detail
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode inference response: %w", err)
	}
	return nil
}
