package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// HTTPConfig points the client at an EmotiScan analysis backend.
type HTTPConfig struct {
	BaseURL  string
	Endpoint string
}

// HTTPClassifier dispatches frames to the analysis backend as multipart
// uploads and parses its JSON detection response.
type HTTPClassifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewHTTP creates an HTTP classifier. The per-call deadline comes from
// the Classify context, so the underlying client carries no timeout of
// its own.
func NewHTTP(cfg HTTPConfig) (*HTTPClassifier, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/api/v1/analyze"
	}

	return &HTTPClassifier{
		url: strings.TrimRight(cfg.BaseURL, "/") + endpoint,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		log: slog.With("component", "classifier", "kind", "http"),
	}, nil
}

// Classify uploads one JPEG frame and returns the parsed detections.
func (c *HTTPClassifier) Classify(ctx context.Context, jpeg []byte) (types.DetectionResult, error) {
	var zero types.DetectionResult

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return zero, fmt.Errorf("%w: build multipart: %v", ErrDispatchFailed, err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return zero, fmt.Errorf("%w: build multipart: %v", ErrDispatchFailed, err)
	}
	if err := mw.Close(); err != nil {
		return zero, fmt.Errorf("%w: build multipart: %v", ErrDispatchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %v", ErrDispatchTimeout, err)
		}
		return zero, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the log, backends tend to
		// explain themselves in the first line.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		c.log.Warn("backend rejected frame",
			"status", resp.StatusCode,
			"body", string(snippet),
		)
		return zero, fmt.Errorf("%w: backend status %d", ErrDispatchFailed, resp.StatusCode)
	}

	var result types.DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return zero, fmt.Errorf("%w: parse response: %v", ErrDispatchFailed, err)
	}

	return result, nil
}

// Close releases idle connections.
func (c *HTTPClassifier) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
