package twilio

import (
	"net/http"
	"net/url"

	twilioclient "github.com/twilio/twilio-go/client"
)

// signatureHeader carries the HMAC Twilio computes over each webhook request.
const signatureHeader = "X-Twilio-Signature"

// Validator checks webhook signatures. Twilio signs the full public URL plus
// the sorted POST form parameters with the account's auth token.
type Validator struct {
	inner twilioclient.RequestValidator
}

// NewValidator builds a webhook validator for the given auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{inner: twilioclient.NewRequestValidator(authToken)}
}

// Validate reports whether the request carries a valid Twilio signature for
// the given parsed form.
func (v *Validator) Validate(r *http.Request, form url.Values) bool {
	params := make(map[string]string, len(form))
	for key, values := range form {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return v.inner.Validate(requestURL(r), params, r.Header.Get(signatureHeader))
}

// requestURL reconstructs the public URL Twilio signed, honouring the
// forwarding headers set by a fronting proxy or tunnel.
func requestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
