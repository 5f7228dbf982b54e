// Package compression encodes edge responses with brotli, zstd or gzip
// according to the client's Accept-Encoding.
package compression

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/movpey/movpey/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverOrder is the preferred algorithm order when client qualities tie.
var serverOrder = []string{"br", "zstd", "gzip"}

var defaultContentTypes = []string{
	"text/html",
	"text/css",
	"text/plain",
	"text/javascript",
	"application/javascript",
	"application/json",
	"application/xml",
	"text/xml",
	"image/svg+xml",
}

type encodingWriter interface {
	io.Writer
	Close() error
}

type countWriter struct {
	w io.Writer
	n int64
}

func (cw *countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type pooledZstdWriter struct {
	enc  *zstd.Encoder
	pool *sync.Pool
}

func (pw *pooledZstdWriter) Write(p []byte) (int, error) { return pw.enc.Write(p) }

func (pw *pooledZstdWriter) Flush() error { return pw.enc.Flush() }

func (pw *pooledZstdWriter) Close() error {
	err := pw.enc.Close()
	pw.pool.Put(pw.enc)
	return err
}

// Metrics counts bytes before and after encoding per algorithm.
type Metrics struct {
	Bytes *prometheus.CounterVec
}

// NewMetrics creates the compression collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Bytes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "movpey",
			Subsystem: "compression",
			Name:      "bytes_total",
			Help:      "Response bytes handled by the compressor.",
		}, []string{"algorithm", "direction"}),
	}
}

func (m *Metrics) record(algo string, in, out int64) {
	if m == nil {
		return
	}
	m.Bytes.WithLabelValues(algo, "in").Add(float64(in))
	m.Bytes.WithLabelValues(algo, "out").Add(float64(out))
}

// Compressor holds the negotiated settings shared by all requests.
type Compressor struct {
	enabled      bool
	level        int
	minSize      int
	contentTypes map[string]bool
	order        []string
	zstdPool     sync.Pool
	metrics      *Metrics
}

// New creates a Compressor from cfg. metrics may be nil.
func New(cfg config.CompressionConfig, metrics *Metrics) *Compressor {
	c := &Compressor{
		enabled:      cfg.Enabled,
		level:        cfg.Level,
		minSize:      cfg.MinSize,
		contentTypes: make(map[string]bool),
		metrics:      metrics,
	}
	if c.level <= 0 || c.level > 11 {
		c.level = 6
	}
	if c.minSize <= 0 {
		c.minSize = 1024
	}

	allowed := map[string]bool{"br": true, "zstd": true, "gzip": true}
	if len(cfg.Algorithms) > 0 {
		allowed = make(map[string]bool, len(cfg.Algorithms))
		for _, a := range cfg.Algorithms {
			allowed[a] = true
		}
	}
	for _, a := range serverOrder {
		if allowed[a] {
			c.order = append(c.order, a)
		}
	}

	types := cfg.ContentTypes
	if len(types) == 0 {
		types = defaultContentTypes
	}
	for _, ct := range types {
		c.contentTypes[ct] = true
	}

	level := zstd.EncoderLevelFromZstd(c.level)
	c.zstdPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
			return enc
		},
	}
	return c
}

// Negotiate picks the algorithm for r, or "" when the response should be
// sent as is. Higher client quality wins; ties go to br, then zstd, then gzip.
func (c *Compressor) Negotiate(r *http.Request) string {
	if !c.enabled || r.Method == http.MethodHead {
		return ""
	}
	header := r.Header.Get("Accept-Encoding")
	if header == "" {
		return ""
	}

	prefs := make(map[string]float64)
	wildcard := -1.0
	for _, part := range strings.Split(header, ",") {
		enc, q := parseEncoding(part)
		switch enc {
		case "":
		case "*":
			wildcard = q
		default:
			prefs[enc] = q
		}
	}

	best, bestQ := "", 0.0
	for _, algo := range c.order {
		q, ok := prefs[algo]
		if !ok {
			q = wildcard
		}
		if q > bestQ {
			best, bestQ = algo, q
		}
	}
	return best
}

func parseEncoding(part string) (string, float64) {
	enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
	enc = strings.ToLower(strings.TrimSpace(enc))
	q := 1.0
	for _, p := range strings.Split(params, ";") {
		p = strings.TrimSpace(p)
		if v, ok := strings.CutPrefix(p, "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
	}
	return enc, q
}

func (c *Compressor) compressible(contentType string) bool {
	ct, _, _ := strings.Cut(contentType, ";")
	return c.contentTypes[strings.ToLower(strings.TrimSpace(ct))]
}

func (c *Compressor) newEncoder(w io.Writer, algo string) encodingWriter {
	switch algo {
	case "br":
		return brotli.NewWriterLevel(w, c.level)
	case "zstd":
		enc := c.zstdPool.Get().(*zstd.Encoder)
		enc.Reset(w)
		return &pooledZstdWriter{enc: enc, pool: &c.zstdPool}
	default:
		gz, _ := gzip.NewWriterLevel(w, min(c.level, gzip.BestCompression))
		return gz
	}
}

// Middleware compresses responses whose content type is listed, whose body
// reaches the minimum size and which carry no Content-Encoding yet.
func (c *Compressor) Middleware(next http.Handler) http.Handler {
	if !c.enabled || len(c.order) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		algo := c.Negotiate(r)
		w.Header().Add("Vary", "Accept-Encoding")
		if algo == "" {
			next.ServeHTTP(w, r)
			return
		}
		cw := &responseWriter{ResponseWriter: w, compressor: c, algorithm: algo, status: http.StatusOK}
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}

// responseWriter buffers the first minSize bytes to decide whether encoding
// is worthwhile, then streams through the encoder.
type responseWriter struct {
	http.ResponseWriter
	compressor  *Compressor
	algorithm   string
	status      int
	buf         []byte
	decided     bool
	compressing bool
	headerSent  bool
	enc         encodingWriter
	counter     *countWriter
	bytesIn     int64
}

func (w *responseWriter) WriteHeader(code int) {
	if w.headerSent {
		return
	}
	w.status = code
	if !w.eligible() {
		w.decide(false)
	}
}

// eligible reports whether the response headers allow encoding at all.
func (w *responseWriter) eligible() bool {
	h := w.ResponseWriter.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	if w.status == http.StatusNoContent || w.status == http.StatusNotModified || w.status < 200 {
		return false
	}
	ct := h.Get("Content-Type")
	return ct == "" || w.compressor.compressible(ct)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.buf = append(w.buf, b...)
		if !w.eligible() {
			w.decide(false)
		} else if len(w.buf) >= w.compressor.minSize {
			w.decide(true)
		}
		return len(b), nil
	}
	if w.compressing {
		w.bytesIn += int64(len(b))
		return w.enc.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) decide(compress bool) {
	w.decided = true
	w.compressing = compress
	if !w.headerSent {
		w.headerSent = true
		if compress {
			h := w.ResponseWriter.Header()
			h.Del("Content-Length")
			h.Set("Content-Encoding", w.algorithm)
			w.counter = &countWriter{w: w.ResponseWriter}
			w.enc = w.compressor.newEncoder(w.counter, w.algorithm)
		}
		w.ResponseWriter.WriteHeader(w.status)
	}
	if len(w.buf) > 0 {
		if compress {
			w.bytesIn += int64(len(w.buf))
			w.enc.Write(w.buf)
		} else {
			w.ResponseWriter.Write(w.buf)
		}
		w.buf = nil
	}
}

// Close flushes buffered bytes and finishes the encoded stream.
func (w *responseWriter) Close() {
	if !w.decided {
		w.decide(false)
		return
	}
	if w.compressing {
		w.enc.Close()
		w.compressor.metrics.record(w.algorithm, w.bytesIn, w.counter.n)
	}
}

func (w *responseWriter) Flush() {
	if !w.decided {
		w.decide(w.eligible() && len(w.buf) >= w.compressor.minSize)
	}
	if w.compressing {
		if f, ok := w.enc.(interface{ Flush() error }); ok {
			f.Flush()
		}
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
