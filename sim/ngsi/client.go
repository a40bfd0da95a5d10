// Package ngsi is a minimal NGSI v1 client for the queryContext operation,
// used to read other entities' current attribute values from a context
// broker.
package ngsi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/attrsim/attrsim/sim"
)

// QueryContextPath is the NGSI v1 query endpoint.
const QueryContextPath = "/v1/queryContext"

// maxResponseBytes caps how much of a broker response is read.
const maxResponseBytes = 8 << 20

var supportedProtocols = map[string]bool{"http": true, "https": true}

// Client issues queryContext requests on behalf of one tenant.
type Client struct {
	url    string
	domain sim.DomainConfig
	http   *http.Client
}

// NewClient validates the broker configuration and returns a client. A nil
// httpClient means http.DefaultClient.
func NewClient(broker sim.ContextBrokerConfig, domain sim.DomainConfig, httpClient *http.Client) (*Client, error) {
	protocol := strings.ToLower(broker.Protocol)
	if !supportedProtocols[protocol] {
		return nil, fmt.Errorf("%w: %q", sim.ErrProtocolNotSupported, broker.Protocol)
	}
	if broker.NGSIVersion != "" && broker.NGSIVersion != "1.0" {
		return nil, fmt.Errorf("%w: %q", sim.ErrNGSIVersionNotSupported, broker.NGSIVersion)
	}
	if broker.Host == "" {
		return nil, fmt.Errorf("%w: context broker host is required", sim.ErrSimulationConfigurationNotValid)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	url := fmt.Sprintf("%s://%s", protocol, broker.Host)
	if broker.Port != 0 {
		url = fmt.Sprintf("%s:%d", url, broker.Port)
	}
	return &Client{url: url + QueryContextPath, domain: domain, http: httpClient}, nil
}

// URL returns the queryContext endpoint.
func (c *Client) URL() string { return c.url }

// StatusError reports a response that was not a success.
type StatusError struct {
	Entity string
	Status string
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("queryContext for %s failed with status %s", e.Entity, e.Status)
	}
	return fmt.Sprintf("queryContext for %s failed with status %s: %s", e.Entity, e.Status, e.Reason)
}

// QueryContext posts req and returns the decoded response. A non-200 HTTP
// status, an embedded errorCode other than 200, or a context response whose
// statusCode is not 200 is a *StatusError.
func (c *Client) QueryContext(ctx context.Context, token string, req QueryContextRequest) (*QueryContextResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding queryContext request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building queryContext request: %w", err)
	}
	correlator := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Fiware-Service", c.domain.Service)
	httpReq.Header.Set("Fiware-ServicePath", c.domain.Subservice)
	httpReq.Header.Set("X-Auth-Token", token)
	httpReq.Header.Set("Fiware-Correlator", correlator)

	entity := describe(req)
	logrus.Debugf("queryContext %s attributes=%v correlator=%s", entity, req.Attributes, correlator)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("queryContext for %s: %w", entity, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading queryContext response for %s: %w", entity, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Entity: entity, Status: fmt.Sprint(resp.StatusCode), Reason: strings.TrimSpace(string(raw))}
	}

	var out QueryContextResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding queryContext response for %s: %w", entity, err)
	}
	if out.ErrorCode != nil && !out.ErrorCode.Code.OK() {
		return nil, &StatusError{Entity: entity, Status: string(out.ErrorCode.Code), Reason: out.ErrorCode.ReasonPhrase}
	}
	for _, cr := range out.ContextResponses {
		if cr.StatusCode != nil && !cr.StatusCode.Code.OK() {
			return nil, &StatusError{Entity: entity, Status: string(cr.StatusCode.Code), Reason: cr.StatusCode.ReasonPhrase}
		}
	}
	return &out, nil
}

func describe(req QueryContextRequest) string {
	if len(req.Entities) == 0 {
		return "<no entity>"
	}
	e := req.Entities[0]
	if e.Type == "" {
		return e.ID
	}
	return e.ID + " (" + e.Type + ")"
}
