package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/LuisCastillo14/Deteccion-Emociones/internal/overlay"
	"github.com/LuisCastillo14/Deteccion-Emociones/internal/types"
)

// ServerOptions wires the monitor surface. Health, Readiness and Metrics
// are mounted as-is when non-nil, the orchestrator owns their content.
type ServerOptions struct {
	Addr      string
	Frames    *FrameBroadcaster
	Events    *EventBroadcaster
	Health    http.HandlerFunc
	Readiness http.HandlerFunc
	Metrics   http.Handler
}

// Server is the embedded HTTP monitor.
type Server struct {
	opts ServerOptions
	srv  *http.Server

	placeholderOnce sync.Once
	placeholder     []byte
}

// NewServer returns a configured monitor server. Start must be called to
// begin listening.
func NewServer(opts ServerOptions) *Server {
	return &Server{opts: opts}
}

// Handler exposes the HTTP handler for the monitor.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream.mjpeg", s.handleStream)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/snapshot.jpg", s.handleSnapshot)

	if s.opts.Health != nil {
		mux.HandleFunc("/health", s.opts.Health)
	}
	if s.opts.Readiness != nil {
		mux.HandleFunc("/readiness", s.opts.Readiness)
	}
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}

	return mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Handler(),
		// No WriteTimeout: the stream and event endpoints hold their
		// connection open for the lifetime of the client.
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("starting web monitor",
		"addr", s.opts.Addr,
		"endpoints", []string{"/", "/stream.mjpeg", "/events", "/snapshot.jpg", "/health", "/readiness", "/metrics"},
	)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("web monitor failed", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the listener and disconnects streaming clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Frames != nil {
		s.opts.Frames.Close()
	}
	if s.opts.Events != nil {
		s.opts.Events.Close()
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTemplate.Execute(w, indexData())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Frames == nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	id, frameCh := s.opts.Frames.Subscribe()
	defer s.opts.Frames.Unsubscribe(id)
	s.streamMJPEG(w, frameCh)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		http.Error(w, "events unavailable", http.StatusServiceUnavailable)
		return
	}
	id, eventCh := s.opts.Events.Subscribe()
	defer s.opts.Events.Unsubscribe(id)
	streamSSE(w, eventCh)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Frames == nil {
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}
	data, ok := s.opts.Frames.Latest()
	if !ok {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

// streamMJPEG writes a multipart stream until the client disconnects or
// the channel closes. A placeholder frame keeps the connection alive
// when no results are flowing.
func (s *Server) streamMJPEG(w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	for {
		var data []byte
		select {
		case frame, ok := <-frameCh:
			if !ok {
				return
			}
			data = frame
		case <-time.After(5 * time.Second):
			data = s.placeholderJPEG()
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// streamSSE writes server-sent events until the client disconnects or
// the channel closes.
func streamSSE(w http.ResponseWriter, eventCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", event); err != nil {
				return
			}
			flusher.Flush()
		case <-time.After(30 * time.Second):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// placeholderJPEG is a plain dark frame sent while no annotated frames
// are available.
func (s *Server) placeholderJPEG() []byte {
	s.placeholderOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 640, 480))
		gray := color.RGBA{R: 32, G: 32, B: 32, A: 255}
		for y := 0; y < 480; y++ {
			for x := 0; x < 640; x++ {
				img.Set(x, y, gray)
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
			return
		}
		s.placeholder = buf.Bytes()
	})
	return s.placeholder
}

var indexTemplate = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>EmotiScan</title>
<style>
body { font-family: sans-serif; background: #111; color: #eee; margin: 2em; }
img { max-width: 100%; border: 1px solid #444; }
ul.legend { list-style: none; padding: 0; }
ul.legend li { display: inline-block; margin-right: 1.2em; }
ul.legend span { display: inline-block; width: 0.9em; height: 0.9em; margin-right: 0.3em; vertical-align: middle; }
pre { background: #1b1b1b; padding: 1em; overflow-x: auto; }
</style>
</head>
<body>
<h1>EmotiScan</h1>
<img src="/stream.mjpeg" alt="annotated stream">
<ul class="legend">
{{- range .Palette}}
<li><span style="background: {{.Hex}}"></span>{{.Name}}</li>
{{- end}}
</ul>
<h2>Summary</h2>
<pre id="summary">waiting for events...</pre>
<script>
const es = new EventSource('/events');
es.onmessage = (e) => {
  document.getElementById('summary').textContent = JSON.stringify(JSON.parse(e.data), null, 2);
};
</script>
</body>
</html>
`))

type legendEntry struct {
	Name string
	Hex  string
}

func indexData() map[string]interface{} {
	palette := make([]legendEntry, 0, types.NumEmotions)
	for _, e := range types.Emotions() {
		palette = append(palette, legendEntry{
			Name: strings.ToUpper(string(e)),
			Hex:  overlay.ColorHex(e),
		})
	}
	return map[string]interface{}{"Palette": palette}
}
