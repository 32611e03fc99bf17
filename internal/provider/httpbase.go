package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/friso-kolkman/lead-enrichment-crm/internal/model"
	"github.com/friso-kolkman/lead-enrichment-crm/internal/resilience"
)

// httpBase carries the shared plumbing for HTTP adapters: request execution,
// status-code classification, retry on transient failures and a per-provider
// circuit breaker.
type httpBase struct {
	name    string
	caps    []model.FieldCategory
	cost    float64
	baseURL string
	apiKey  string
	client  *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

func newHTTPBase(name, baseURL, apiKey string, cost float64, caps []model.FieldCategory, retry resilience.RetryConfig) httpBase {
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("provider: circuit state change",
			zap.String("provider", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return httpBase{
		name:    name,
		caps:    caps,
		cost:    cost,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
}

func (b *httpBase) Name() string                        { return b.name }
func (b *httpBase) Capabilities() []model.FieldCategory { return b.caps }
func (b *httpBase) CostPerCall() float64                { return b.cost }

// getJSON performs a GET against the provider API, decoding the body into
// out. Provider failures are mapped onto the shared error taxonomy:
// 429 -> QuotaError, 5xx/timeouts -> UnavailableError (transient),
// 404/empty -> ErrNoData, undecodable body -> InvalidResponseError.
func (b *httpBase) getJSON(ctx context.Context, path string, query url.Values, headers map[string]string, out any) error {
	return b.callJSON(ctx, http.MethodGet, path, query, headers, nil, out)
}

// postJSON is getJSON with a JSON request body, for providers whose lookup
// endpoints are POST-only.
func (b *httpBase) postJSON(ctx context.Context, path string, headers map[string]string, payload, out any) error {
	return b.callJSON(ctx, http.MethodPost, path, nil, headers, payload, out)
}

func (b *httpBase) callJSON(ctx context.Context, method, path string, query url.Values, headers map[string]string, payload, out any) error {
	fn := func(ctx context.Context) error {
		return b.doOnce(ctx, method, path, query, headers, payload, out)
	}
	retry := b.retry
	retry.OnRetry = resilience.RetryLogger(b.name, path)
	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		return b.breaker.Execute(ctx, fn)
	})
}

func (b *httpBase) doOnce(ctx context.Context, method, path string, query url.Values, headers map[string]string, payload, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrapf(err, "provider %s: encode payload", b.name)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return eris.Wrapf(err, "provider %s: build request", b.name)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return &UnavailableError{Provider: b.name, Err: resilience.NewTransientError(err, 0)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNoData
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		return resilience.NewQuotaError(b.name,
			eris.Errorf("provider %s: rate limited, retry after %s", b.name, retryAfter))
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &UnavailableError{
			Provider: b.name,
			Err: resilience.NewTransientError(
				eris.Errorf("provider %s: HTTP %d: %s", b.name, resp.StatusCode, body),
				resp.StatusCode,
			),
		}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return resilience.NewDataError(
			eris.Errorf("provider %s: HTTP %d: %s", b.name, resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &InvalidResponseError{Provider: b.name, Err: err}
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Minute
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}

// putIfSet copies non-zero values into the field map under the canonical key.
func putIfSet(fields Fields, key string, value any) {
	switch v := value.(type) {
	case string:
		if v != "" {
			fields[key] = v
		}
	case int:
		if v != 0 {
			fields[key] = v
		}
	case float64:
		if v != 0 {
			fields[key] = v
		}
	case []string:
		if len(v) > 0 {
			fields[key] = v
		}
	case bool:
		if v {
			fields[key] = v
		}
	default:
		if value != nil {
			fields[key] = value
		}
	}
}

// fullName joins first and last name for providers that only take one field.
func fullName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return fmt.Sprintf("%s %s", first, last)
	}
}
