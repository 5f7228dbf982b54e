package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxLookupBody caps how much of the geolocation response is read.
const maxLookupBody = 64 << 10

// HTTPLookup queries an ip-api.com compatible geolocation API:
// GET {base}/{ip}?fields=status,countryCode.
type HTTPLookup struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	tracer  trace.Tracer
}

// NewHTTPLookup creates a lookup against baseURL. Each call is bounded by timeout.
func NewHTTPLookup(baseURL string, timeout time.Duration, client *http.Client) *HTTPLookup {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLookup{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  client,
		tracer:  otel.Tracer("github.com/movpey/movpey/internal/middleware/geo"),
	}
}

// Lookup makes exactly one request; the response is treated as untrusted.
func (h *HTTPLookup) Lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "geo.lookup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("client.address", ip)),
	)
	defer span.End()

	res, err := h.lookup(ctx, ip)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Location{}, err
	}
	span.SetAttributes(attribute.String("geo.country", res.Country))
	return res, nil
}

func (h *HTTPLookup) lookup(ctx context.Context, ip string) (Location, error) {
	u := h.baseURL + "/" + url.PathEscape(ip) + "?fields=status,countryCode"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Location{}, fmt.Errorf("geo lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geo lookup: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBody))
	if err != nil {
		return Location{}, fmt.Errorf("geo lookup read: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return Location{}, fmt.Errorf("geo lookup: malformed response body")
	}

	fields := gjson.GetManyBytes(body, "status", "countryCode")
	if status := fields[0].String(); status != "success" {
		return Location{}, fmt.Errorf("geo lookup: status %q", status)
	}
	code := strings.ToUpper(strings.TrimSpace(fields[1].String()))
	if len(code) != 2 {
		return Location{}, ErrNoCountry
	}
	return Location{Country: code}, nil
}

// Close is a no-op; the HTTP client is shared.
func (h *HTTPLookup) Close() error {
	return nil
}
