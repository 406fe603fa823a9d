// Package mlworker claims pending Photo rows and runs them through an
// object-detection inference backend, producing one MlDetection per photo
// and handing the result to the alert engine. Grounded on the teacher's
// findface client + faceengine facade split: a thin HTTP client for the
// wire contract, and a higher-level engine that owns retry/error policy
// and never treats a backend hiccup as fatal to the worker loop.
package mlworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/waggle-hive/hivehub/internal/model"
)

// Inferencer is the opaque model.infer(path) contract from spec.md §4.4.
type Inferencer interface {
	Infer(ctx context.Context, photoPath string) ([]model.RawDetection, error)
}

// HTTPClient is an Inferencer backed by a multipart upload to an inference
// service, grounded directly on findface.Client.CreateFaceEventFromFile's
// shape: open the file, build a multipart body, POST it, decode JSON.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient builds an HTTPClient with a bounded request timeout —
// findface.Client.New hardcodes 30s for the same reason: an inference
// backend that hangs must not wedge the claim loop forever.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type rawDetectionWire struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// Infer uploads the photo at path and parses the backend's bounding-box
// list. The backend's class strings are trusted as matching
// model.DetectionClass's enumeration.
func (c *HTTPClient) Infer(ctx context.Context, path string) ([]model.RawDetection, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mlworker: open %s: %w", path, err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fw, err := writer.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("mlworker: create form file: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, fmt.Errorf("mlworker: copy image into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("mlworker: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/infer", &body)
	if err != nil {
		return nil, fmt.Errorf("mlworker: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mlworker: inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mlworker: inference returned %d: %s", resp.StatusCode, string(respBody))
	}

	var wire []rawDetectionWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("mlworker: decode inference response: %w", err)
	}

	out := make([]model.RawDetection, 0, len(wire))
	for _, w := range wire {
		out = append(out, model.RawDetection{
			Class:      model.DetectionClass(w.Class),
			Confidence: w.Confidence,
			BBox:       w.BBox,
		})
	}
	return out, nil
}
