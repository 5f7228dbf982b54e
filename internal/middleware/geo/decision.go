package geo

import (
	"context"
	"errors"
)

// ErrNoCountry is returned by lookups that complete without a usable country code.
var ErrNoCountry = errors.New("geo: no country in lookup result")

// Source identifies which strategy produced a country decision.
type Source string

const (
	SourceHeader     Source = "header"
	SourceDatabase   Source = "database"
	SourceLookup     Source = "lookup"
	SourceDevDefault Source = "dev-default"
	SourceUnknown    Source = "unknown"
)

// CountryDecision is the resolved country for one request.
type CountryDecision struct {
	Code   string `json:"country,omitempty"` // ISO 3166-1 alpha-2, empty when unresolved
	Source Source `json:"source"`
	IP     string `json:"ip,omitempty"`
}

// Resolved reports whether a country code was found.
func (d CountryDecision) Resolved() bool {
	return d.Code != ""
}

// Verdict is the outcome of the access gate.
type Verdict string

const (
	VerdictBypass Verdict = "bypass"
	VerdictAllow  Verdict = "allow"
	VerdictDeny   Verdict = "deny"
)

// Result is what the gate decided for a request and why.
type Result struct {
	Verdict  Verdict         `json:"verdict"`
	Decision CountryDecision `json:"decision"`
	Reason   string          `json:"reason,omitempty"`
}

// Reasons attached to a Result.
const (
	ReasonBypassPath   = "bypass_path"
	ReasonDisabled     = "disabled"
	ReasonAllowList    = "allow_list"
	ReasonNotAllowed   = "not_allowed"
	ReasonDevDefault   = "dev_default"
	ReasonUnresolved   = "unresolved"
	ReasonUnknownAllow = "unresolved_allowed"
)

// resultKey is the context key for storing Result.
type resultKey struct{}

// WithResult stores a Result in the request context.
func WithResult(ctx context.Context, res Result) context.Context {
	return context.WithValue(ctx, resultKey{}, res)
}

// ResultFromContext retrieves the gate Result from context.
func ResultFromContext(ctx context.Context) (Result, bool) {
	res, ok := ctx.Value(resultKey{}).(Result)
	return res, ok
}
