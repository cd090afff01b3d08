package classify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/classify"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// TestHTTPClassifyParsesBackendResponse validates the multipart upload
// reaches the backend under the expected field name and the JSON
// detection payload round-trips into the domain result.
func TestHTTPClassifyParsesBackendResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing multipart field 'file': %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename == "" {
			t.Error("multipart part has no filename")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"num_faces": 1,
			"results": [{"id": 0, "bbox": [40, 60, 100, 120],
			             "emotion": "surprise", "confidence": 0.88}]
		}`))
	}))
	defer srv.Close()

	c, err := classify.NewHTTP(classify.HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	defer c.Close()

	result, err := c.Classify(context.Background(), []byte("not-a-real-jpeg"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if result.NumSubjects != 1 || len(result.Subjects) != 1 {
		t.Fatalf("got %d/%d subjects, want 1/1", result.NumSubjects, len(result.Subjects))
	}
	s := result.Subjects[0]
	if s.Emotion != types.EmotionSurprise {
		t.Errorf("emotion = %q, want surprise", s.Emotion)
	}
	if s.Box != (types.Rect{X: 40, Y: 60, W: 100, H: 120}) {
		t.Errorf("box = %+v", s.Box)
	}
}

// TestHTTPClassifyZeroSubjects validates an empty detection response is a
// success, not an error.
func TestHTTPClassifyZeroSubjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"num_faces": 0, "results": []}`))
	}))
	defer srv.Close()

	c, err := classify.NewHTTP(classify.HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	defer c.Close()

	result, err := c.Classify(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("Classify failed on empty result: %v", err)
	}
	if result.NumSubjects != 0 || len(result.Subjects) != 0 {
		t.Errorf("got %d/%d subjects, want 0/0", result.NumSubjects, len(result.Subjects))
	}
}

// TestHTTPClassifyTimeout validates deadline expiry maps to
// ErrDispatchTimeout, distinguishable from other dispatch failures.
func TestHTTPClassifyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, err := classify.NewHTTP(classify.HTTPConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Classify(ctx, []byte("x"))
	if !errors.Is(err, classify.ErrDispatchTimeout) {
		t.Errorf("error = %v, want ErrDispatchTimeout", err)
	}
}

// TestHTTPClassifyFailures validates non-200 statuses and malformed JSON
// map to ErrDispatchFailed.
func TestHTTPClassifyFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"backend 500", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model exploded", http.StatusInternalServerError)
		}},
		{"backend 422", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not an image", http.StatusUnprocessableEntity)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"num_faces": `))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c, err := classify.NewHTTP(classify.HTTPConfig{BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("NewHTTP failed: %v", err)
			}
			defer c.Close()

			_, err = c.Classify(context.Background(), []byte("x"))
			if !errors.Is(err, classify.ErrDispatchFailed) {
				t.Errorf("error = %v, want ErrDispatchFailed", err)
			}
			if errors.Is(err, classify.ErrDispatchTimeout) {
				t.Errorf("error %v should not be a timeout", err)
			}
		})
	}
}

// TestHTTPClassifyUnreachableBackend validates connection refusals come
// back as dispatch failures rather than panics or raw transport errors.
func TestHTTPClassifyUnreachableBackend(t *testing.T) {
	c, err := classify.NewHTTP(classify.HTTPConfig{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	defer c.Close()

	_, err = c.Classify(context.Background(), []byte("x"))
	if !errors.Is(err, classify.ErrDispatchFailed) {
		t.Errorf("error = %v, want ErrDispatchFailed", err)
	}
}

// TestMockNeverResolvesUntilDeadline validates the mock used by the
// skip-on-busy tests blocks until the caller's deadline.
func TestMockNeverResolvesUntilDeadline(t *testing.T) {
	m := &classify.Mock{Never: true}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Classify(ctx, nil)
	if !errors.Is(err, classify.ErrDispatchTimeout) {
		t.Errorf("error = %v, want ErrDispatchTimeout", err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("mock resolved before the deadline")
	}
	if m.Calls() != 1 {
		t.Errorf("calls = %d, want 1", m.Calls())
	}
}
