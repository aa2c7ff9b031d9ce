package httpproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/felixge/httpsnoop"
	"github.com/golang-jwt/jwt/v4"
	c8y "github.com/reubenmiller/go-c8y/pkg/c8y"
	"golang.org/x/time/rate"
)

// RetryTimeout is the interval between internal-id fetch attempts during
// Init, matching the upstream RETRY_TIMEOUT_SECS constant.
const RetryTimeout = 20 * time.Second

// JwtFetcher retrieves a fresh bearer token, typically by publishing
// "c8y/s/uat" over MQTT and awaiting the broker's reply.
type JwtFetcher func(ctx context.Context) (string, error)

// Proxy is the authenticated HTTP client fronting Cumulocity's REST API. It
// transparently refreshes the cached bearer token on 401/403 and the
// cached internal id on 404, retrying each exactly once per request.
type Proxy struct {
	endpoint   *EndPoint
	httpClient *http.Client
	fetchJwt   JwtFetcher
	identity   *c8y.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// New constructs a Proxy. identity may be nil in tests that never exercise
// the external-id lookup path.
func New(endpoint *EndPoint, fetchJwt JwtFetcher, identity *c8y.Client, log *slog.Logger) *Proxy {
	if log == nil {
		log = slog.Default()
	}
	client := &http.Client{}
	client.Transport = httpsnoop.Wrap(http.DefaultTransport, httpsnoop.Hooks{
		RoundTrip: func(next httpsnoop.RoundTripFunc) httpsnoop.RoundTripFunc {
			return func(req *http.Request) *http.Response {
				start := time.Now()
				resp := next(req)
				log.Debug("c8y http proxy request", "method", req.Method, "url", req.URL.String(), "duration", time.Since(start))
				return resp
			}
		},
	})
	return &Proxy{
		endpoint:   endpoint,
		httpClient: client,
		fetchJwt:   fetchJwt,
		identity:   identity,
		limiter:    rate.NewLimiter(rate.Every(0), 1),
		log:        log,
	}
}

// Init resolves and caches the main device's internal id, retrying every
// RetryTimeout until it succeeds or shutdown fires.
func (p *Proxy) Init(ctx context.Context, shutdown <-chan struct{}) error {
	for {
		id, err := p.fetchInternalID(ctx, p.endpoint.MainDeviceExternalID())
		if err == nil {
			p.endpoint.SetInternalID(p.endpoint.MainDeviceExternalID(), id)
			return nil
		}
		p.log.Warn("failed to resolve main device internal id, retrying", "error", err)

		timer := time.NewTimer(RetryTimeout)
		select {
		case <-timer.C:
			continue
		case <-shutdown:
			timer.Stop()
			return ErrInterrupted
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (p *Proxy) fetchInternalID(ctx context.Context, externalID string) (string, error) {
	if cached, ok := p.endpoint.InternalID(externalID); ok {
		return cached, nil
	}
	if p.identity == nil {
		return "", fmt.Errorf("httpproxy: no identity client configured")
	}
	result, _, err := p.identity.Identity.GetExternalID(ctx, "c8y_Serial", externalID)
	if err != nil {
		return "", fmt.Errorf("httpproxy: resolving internal id for %q: %w", externalID, err)
	}
	return result.ManagedObject.ID, nil
}

// Request describes one outgoing proxy call before authentication and
// internal-id substitution are applied.
type Request struct {
	Method     string
	URL        string
	Body       []byte
	ExternalID string // entity whose internal id must be substituted, "" if none
	Bearer     bool   // attach bearer auth (skipped for cross-tenant downloads)
}

// Execute runs the execute-with-retry protocol: retries a 401/403 once
// with a fresh token, and a 404 once with a freshly resolved internal id.
func (p *Proxy) Execute(ctx context.Context, req Request) (*http.Response, []byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	resolved, err := p.resolvePlaceholders(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return p.executeAttempt(ctx, resolved, true, true)
}

// idPlaceholder marks the spot in a Request's URL or body where the entity's
// resolved internal id belongs; request builders emit it literally and
// Execute substitutes it once the internal id is known.
const idPlaceholder = "{id}"

// resolvePlaceholders substitutes idPlaceholder in req.URL and req.Body with
// req.ExternalID's resolved internal id, so builders like CreateEventRequest
// never have to know the internal id up front.
func (p *Proxy) resolvePlaceholders(ctx context.Context, req Request) (Request, error) {
	if req.ExternalID == "" {
		return req, nil
	}
	if !bytes.Contains(req.Body, []byte(idPlaceholder)) && !strings.Contains(req.URL, idPlaceholder) {
		return req, nil
	}
	internalID, err := p.fetchInternalID(ctx, req.ExternalID)
	if err != nil {
		return Request{}, err
	}
	p.endpoint.SetInternalID(req.ExternalID, internalID)
	req.Body = bytes.ReplaceAll(req.Body, []byte(idPlaceholder), []byte(internalID))
	req.URL = strings.ReplaceAll(req.URL, idPlaceholder, internalID)
	return req, nil
}

func (p *Proxy) executeAttempt(ctx context.Context, req Request, retryAuth, retryID bool) (*http.Response, []byte, error) {
	resp, body, err := p.doOnce(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, body, nil
	case (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && retryAuth:
		if err := p.refreshToken(ctx); err != nil {
			return nil, nil, err
		}
		return p.executeAttempt(ctx, req, false, retryID)
	case resp.StatusCode == http.StatusNotFound && retryID && req.ExternalID != "":
		refreshed, err := p.refreshInternalID(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		return p.executeAttempt(ctx, refreshed, retryAuth, false)
	default:
		return nil, nil, &HttpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func (p *Proxy) refreshToken(ctx context.Context) error {
	p.endpoint.ClearToken()
	token, err := p.fetchJwt(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJwtUnavailable, err)
	}
	p.endpoint.SetToken(token)
	return nil
}

func (p *Proxy) refreshInternalID(ctx context.Context, req Request) (Request, error) {
	stale, _ := p.endpoint.InternalID(req.ExternalID)
	p.endpoint.ClearInternalID(req.ExternalID)
	fresh, err := p.fetchInternalID(ctx, req.ExternalID)
	if err != nil {
		return Request{}, err
	}
	p.endpoint.SetInternalID(req.ExternalID, fresh)
	if stale != "" {
		updated, err := p.endpoint.UpdateURLWithNewInternalID(req.URL, stale, fresh)
		if err != nil {
			return Request{}, err
		}
		req.URL = updated
	}
	return req, nil
}

func (p *Proxy) doOnce(ctx context.Context, req Request) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	if req.Bearer {
		token, err := p.ensureToken(ctx)
		if err != nil {
			return nil, nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("httpproxy: request to %q: %w", req.URL, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("httpproxy: reading response from %q: %w", req.URL, err)
	}
	return resp, respBody, nil
}

func (p *Proxy) ensureToken(ctx context.Context) (string, error) {
	if token := p.endpoint.Token(); token != "" && !isExpired(token) {
		return token, nil
	}
	if err := p.refreshToken(ctx); err != nil {
		return "", err
	}
	return p.endpoint.Token(), nil
}

// isExpired inspects a JWT's "exp" claim without verifying its signature,
// used only to decide whether a cached token is worth sending.
func isExpired(token string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().After(exp.Time)
}

// CreateEventRequest builds the request body and target for POST /event/events.
func CreateEventRequest(externalID, eventType, text string, eventTime time.Time) Request {
	payload, _ := json.Marshal(map[string]any{
		"source": map[string]string{"id": idPlaceholder},
		"type":   eventType,
		"text":   text,
		"time":   eventTime.Format(time.RFC3339),
	})
	return Request{
		Method:     http.MethodPost,
		URL:        "event/events",
		Body:       payload,
		ExternalID: externalID,
		Bearer:     true,
	}
}

// SendInventoryTwinRequest builds the request for PUT
// /inventory/managedObjects/{id}, merging one twin data fragment into the
// entity's managed object (spec §4.G SendInventoryTwin, additive: the
// original twin-data merge semantics stop at the entity store, this carries
// them through to Cumulocity's inventory).
func SendInventoryTwinRequest(externalID, fragmentKey string, value json.RawMessage) (Request, error) {
	payload, err := json.Marshal(map[string]json.RawMessage{fragmentKey: value})
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method:     http.MethodPut,
		URL:        "inventory/managedObjects/" + idPlaceholder,
		Body:       payload,
		ExternalID: externalID,
		Bearer:     true,
	}, nil
}

// sizeThresholdError reports an oversized proxy payload using go-units for
// human-readable byte counts.
func sizeThresholdError(actual, limit int) error {
	return fmt.Errorf("httpproxy: payload of %s exceeds the %s limit", units.HumanSize(float64(actual)), units.HumanSize(float64(limit)))
}

// MaxBinaryUploadSize bounds log/config file uploads proxied to
// Cumulocity's binaries API.
const MaxBinaryUploadSize = 20 * 1024 * 1024

// UploadBinaryRequest builds the request for POST /inventory/binaries,
// grounded on upload_log_binary/upload_config_file.
func UploadBinaryRequest(externalID string, content []byte) (Request, error) {
	if len(content) > MaxBinaryUploadSize {
		return Request{}, sizeThresholdError(len(content), MaxBinaryUploadSize)
	}
	return Request{
		Method:     http.MethodPost,
		URL:        "inventory/binaries",
		Body:       content,
		ExternalID: externalID,
		Bearer:     true,
	}, nil
}
