// Package security obtains and caches the broker's tenant-scoped credentials
// and provisions the system user that owns them.
package security

import "net/http"

// Okapi request headers.
const (
	HeaderOkapiURL = "x-okapi-url"
	HeaderTenant   = "x-okapi-tenant"
	HeaderToken    = "x-okapi-token"
)

// ConnectionParams identifies a tenant on an Okapi gateway. Token is the
// caller's token when one is known.
type ConnectionParams struct {
	OkapiURL string `json:"okapiUrl"`
	TenantID string `json:"tenantId"`
	Token    string `json:"-"`
}

// WithToken returns a copy carrying token.
func (p ConnectionParams) WithToken(token string) ConnectionParams {
	p.Token = token
	return p
}

// Apply sets the Okapi headers on h. The token header is omitted when empty.
func (p ConnectionParams) Apply(h http.Header) {
	h.Set(HeaderOkapiURL, p.OkapiURL)
	h.Set(HeaderTenant, p.TenantID)
	if p.Token != "" {
		h.Set(HeaderToken, p.Token)
	}
}

// ParamsFromHeaders reads the Okapi headers of an inbound request.
func ParamsFromHeaders(h http.Header) ConnectionParams {
	return ConnectionParams{
		OkapiURL: h.Get(HeaderOkapiURL),
		TenantID: h.Get(HeaderTenant),
		Token:    h.Get(HeaderToken),
	}
}
