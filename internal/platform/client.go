package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBodyBytes bounds how much of an error response body is read
// for inclusion in error messages.
const maxErrorBodyBytes = 4096

// Logger is the logging interface used by the platform clients.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the REST client for the remote device platform.
//
// All methods classify failures into the package's transient/permanent
// taxonomy so callers can drive retry decisions with IsTransient.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  Logger
}

// ClientConfig contains REST client settings.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewClient creates a new REST client for the platform.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// States fetches the full entity snapshot.
func (c *Client) States(ctx context.Context) ([]EntityState, error) {
	var states []EntityState
	if err := c.get(ctx, "states", "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// State fetches a single entity by id, used by preflight and confirmation.
// Returns ErrEntityNotFound (wrapped permanent) for an unknown entity.
func (c *Client) State(ctx context.Context, entityID string) (*EntityState, error) {
	var state EntityState
	path := "/api/states/" + url.PathEscape(entityID)
	if err := c.get(ctx, "state", path, &state); err != nil {
		var pe *PermanentError
		if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
			return nil, &PermanentError{Op: "state", Status: http.StatusNotFound, Err: fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)}
		}
		return nil, err
	}
	return &state, nil
}

// Services fetches and normalizes the service catalog.
//
// The endpoint may return either a list of {domain, services} objects or a
// map of domain to service definitions; both shapes decode into the same
// normalized slice.
func (c *Client) Services(ctx context.Context) ([]ServiceDomain, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "services", "/api/services", &raw); err != nil {
		return nil, err
	}
	domains, err := normalizeServiceCatalog(raw)
	if err != nil {
		return nil, &PermanentError{Op: "services", Err: err}
	}
	return domains, nil
}

// Config fetches platform instance metadata.
func (c *Client) Config(ctx context.Context) (*InstanceInfo, error) {
	var info InstanceInfo
	if err := c.get(ctx, "config", "/api/config", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CallService executes one service call. The data payload must already
// include entity_id where the service targets entities.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))

	body, err := json.Marshal(data)
	if err != nil {
		return &PermanentError{Op: "call_service", Err: fmt.Errorf("marshalling payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Op: "call_service", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return ClassifyError("call_service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus("call_service", resp.StatusCode, readErrorBody(resp.Body))
	}

	c.logger.Debug("service called", "domain", domain, "service", service)
	return nil
}

// get performs a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &PermanentError{Op: op, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return ClassifyError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(op, resp.StatusCode, readErrorBody(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PermanentError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
}

// readErrorBody reads a bounded prefix of an error response body.
func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes)) //nolint:errcheck // Best effort for error text
	return string(b)
}

// normalizeServiceCatalog decodes either catalog wire shape.
func normalizeServiceCatalog(raw json.RawMessage) ([]ServiceDomain, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty service catalog")
	}

	switch trimmed[0] {
	case '[':
		var domains []ServiceDomain
		if err := json.Unmarshal(raw, &domains); err != nil {
			return nil, fmt.Errorf("decoding service list: %w", err)
		}
		return domains, nil
	case '{':
		var byDomain map[string]map[string]ServiceDef
		if err := json.Unmarshal(raw, &byDomain); err != nil {
			return nil, fmt.Errorf("decoding service map: %w", err)
		}
		domains := make([]ServiceDomain, 0, len(byDomain))
		for domain, services := range byDomain {
			domains = append(domains, ServiceDomain{Domain: domain, Services: services})
		}
		return domains, nil
	default:
		return nil, fmt.Errorf("unrecognised service catalog shape")
	}
}
