// Package testutil provides shared test infrastructure: a fake NGSI v1
// context broker that serves queryContext from an in-memory entity table and
// records every request it receives.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/attrsim/attrsim/sim"
)

// QueryEntity mirrors one entry of a queryContext request's entities list.
type QueryEntity struct {
	ID        string `json:"id"`
	IsPattern string `json:"isPattern"`
	Type      string `json:"type,omitempty"`
}

// Query mirrors a queryContext request body.
type Query struct {
	Entities   []QueryEntity `json:"entities"`
	Attributes []string      `json:"attributes"`
}

// Recorded is a request seen by the fake broker.
type Recorded struct {
	Method string
	Path   string
	Header http.Header
	Query  Query
}

// FakeBroker is an httptest server speaking just enough NGSI v1.
type FakeBroker struct {
	Server *httptest.Server

	mu          sync.Mutex
	entities    map[string]map[string]any
	httpFailure map[string]int
	embedded    map[string]string
	latency     time.Duration
	requests    []Recorded
	inFlight    int
	maxInFlight int
}

// NewFakeBroker starts a broker that is closed when the test ends.
func NewFakeBroker(t testing.TB) *FakeBroker {
	t.Helper()
	b := &FakeBroker{
		entities:    make(map[string]map[string]any),
		httpFailure: make(map[string]int),
		embedded:    make(map[string]string),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Server.Close)
	return b
}

// Config returns the broker location for sim.Deps.
func (b *FakeBroker) Config() sim.ContextBrokerConfig {
	u, err := url.Parse(b.Server.URL)
	if err != nil {
		panic(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return sim.ContextBrokerConfig{Protocol: u.Scheme, Host: u.Hostname(), Port: port, NGSIVersion: "1.0"}
}

// SetEntity stores attrs for the entity. typ may be empty.
func (b *FakeBroker) SetEntity(id, typ string, attrs map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entities[key(id, typ)] = attrs
}

// FailHTTP makes queries for id answer with the given HTTP status.
func (b *FakeBroker) FailHTTP(id string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.httpFailure[id] = status
}

// FailEmbedded makes queries for id answer HTTP 200 with an embedded
// errorCode.
func (b *FakeBroker) FailEmbedded(id, code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.embedded[id] = code
}

// SetLatency delays every response by d.
func (b *FakeBroker) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// Requests returns the requests received so far.
func (b *FakeBroker) Requests() []Recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Recorded, len(b.requests))
	copy(out, b.requests)
	return out
}

// MaxInFlight returns the highest number of requests served concurrently.
func (b *FakeBroker) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight
}

func key(id, typ string) string {
	if typ == "" {
		return id
	}
	return id + "|" + typ
}

func (b *FakeBroker) serve(w http.ResponseWriter, r *http.Request) {
	var q Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.requests = append(b.requests, Recorded{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Query: q})
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	latency := b.latency
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if latency > 0 {
		time.Sleep(latency)
	}
	if len(q.Entities) != 1 {
		http.Error(w, "expected exactly one entity", http.StatusBadRequest)
		return
	}
	e := q.Entities[0]

	b.mu.Lock()
	status, failHTTP := b.httpFailure[e.ID]
	code, failEmbedded := b.embedded[e.ID]
	attrs, found := b.entities[key(e.ID, e.Type)]
	if !found && e.Type == "" {
		attrs, found = b.entities[e.ID]
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case failHTTP:
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"orionError":{"code":"%d","reasonPhrase":"forced failure"}}`, status)
	case failEmbedded:
		fmt.Fprintf(w, `{"errorCode":{"code":"%s","reasonPhrase":"forced failure"}}`, code)
	case !found:
		fmt.Fprint(w, `{"errorCode":{"code":"404","reasonPhrase":"No context element found"}}`)
	default:
		writeContextResponse(w, e, q.Attributes, attrs)
	}
}

func writeContextResponse(w http.ResponseWriter, e QueryEntity, names []string, attrs map[string]any) {
	type attribute struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Value any    `json:"value"`
	}
	out := []attribute{}
	for _, n := range names {
		if v, ok := attrs[n]; ok {
			out = append(out, attribute{Name: n, Type: "string", Value: v})
		}
	}
	body := map[string]any{
		"contextResponses": []any{
			map[string]any{
				"contextElement": map[string]any{
					"id":         e.ID,
					"type":       e.Type,
					"isPattern":  "false",
					"attributes": out,
				},
				"statusCode": map[string]any{"code": "200", "reasonPhrase": "OK"},
			},
		},
	}
	json.NewEncoder(w).Encode(body)
}
