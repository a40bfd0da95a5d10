package ngsi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EntityID identifies one entity in a query. Type is optional and
// disambiguates entities sharing an id.
type EntityID struct {
	ID        string `json:"id"`
	IsPattern string `json:"isPattern"`
	Type      string `json:"type,omitempty"`
}

// QueryContextRequest is the body of POST /v1/queryContext.
type QueryContextRequest struct {
	Entities   []EntityID `json:"entities"`
	Attributes []string   `json:"attributes"`
}

// NewQuery builds a request for attributes of a single, non-pattern entity.
func NewQuery(id, typ string, attributes []string) QueryContextRequest {
	return QueryContextRequest{
		Entities:   []EntityID{{ID: id, IsPattern: "false", Type: typ}},
		Attributes: attributes,
	}
}

// Code is an NGSI status code. Brokers send it either as a string or as a
// number.
type Code string

// UnmarshalJSON accepts "200" and 200.
func (c *Code) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = Code(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// OK reports whether the code is 200.
func (c Code) OK() bool {
	n, err := strconv.Atoi(string(c))
	return err == nil && n == 200
}

// StatusCode is the NGSI status envelope.
type StatusCode struct {
	Code         Code   `json:"code"`
	ReasonPhrase string `json:"reasonPhrase,omitempty"`
	Details      string `json:"details,omitempty"`
}

// Attribute is one attribute of a context element. Value is a string for
// simple attributes and any JSON value for compound ones.
type Attribute struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// ContextElement is an entity with its attributes.
type ContextElement struct {
	ID         string      `json:"id"`
	Type       string      `json:"type,omitempty"`
	IsPattern  string      `json:"isPattern,omitempty"`
	Attributes []Attribute `json:"attributes"`
}

// ContextResponse pairs an element with its status.
type ContextResponse struct {
	ContextElement ContextElement `json:"contextElement"`
	StatusCode     *StatusCode    `json:"statusCode,omitempty"`
}

// QueryContextResponse is the body returned by queryContext.
type QueryContextResponse struct {
	ContextResponses []ContextResponse `json:"contextResponses,omitempty"`
	ErrorCode        *StatusCode       `json:"errorCode,omitempty"`
}

// Attributes returns the attributes of the first context response as a
// name → value map.
func (r *QueryContextResponse) Attributes() map[string]any {
	out := make(map[string]any)
	if len(r.ContextResponses) == 0 {
		return out
	}
	for _, a := range r.ContextResponses[0].ContextElement.Attributes {
		out[a.Name] = a.Value
	}
	return out
}
