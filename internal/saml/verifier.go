package saml

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"tenantgate.io/internal/auth"
)

// Assertion is the verified subset of a SAML assertion the adapter consumes.
type Assertion struct {
	NameID     string
	Attributes map[string][]string
}

// Identity returns the NameID, or the first email/Email attribute value.
func (a *Assertion) Identity() string {
	if a == nil {
		return ""
	}
	if id := strings.TrimSpace(a.NameID); id != "" {
		return id
	}
	for _, name := range []string{"email", "Email"} {
		for _, v := range a.Attributes[name] {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// Verifier checks a posted SAMLResponse against cfg: signature, audience,
// destination and validity window.
type Verifier interface {
	Verify(ctx context.Context, cfg Config, samlResponse string) (*Assertion, error)
}

// CrewjamVerifier verifies responses with github.com/crewjam/saml.
type CrewjamVerifier struct{}

func (CrewjamVerifier) Verify(_ context.Context, cfg Config, samlResponse string) (*Assertion, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(samlResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", auth.ErrSamlAssertionInvalid, err)
	}
	sp := cfg.serviceProvider()
	assertion, err := sp.ParseXMLResponse(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrSamlAssertionInvalid, err)
	}

	out := &Assertion{Attributes: make(map[string][]string)}
	if assertion.Subject != nil && assertion.Subject.NameID != nil {
		out.NameID = assertion.Subject.NameID.Value
	}
	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			for _, v := range attr.Values {
				out.Attributes[attr.Name] = append(out.Attributes[attr.Name], v.Value)
				if attr.FriendlyName != "" && attr.FriendlyName != attr.Name {
					out.Attributes[attr.FriendlyName] = append(out.Attributes[attr.FriendlyName], v.Value)
				}
			}
		}
	}
	return out, nil
}
