package verifier

import "time"

// Request is one verification call. SubjectKey and SubjectEmail are only used
// for bundles without a certificate.
type Request struct {
	Assertion       string `cbor:"assertion" json:"assertion"`
	Audience        string `cbor:"audience" json:"audience"`
	ForceIssuer     string `cbor:"force_issuer,omitempty" json:"forceIssuer,omitempty"`
	AllowUnverified bool   `cbor:"allow_unverified,omitempty" json:"allowUnverified,omitempty"`
	SubjectKey      string `cbor:"subject_key,omitempty" json:"subjectKey,omitempty"`
	SubjectEmail    string `cbor:"subject_email,omitempty" json:"subjectEmail,omitempty"`
}

// Result is a successful verification.
type Result struct {
	Email     string    `cbor:"email" json:"email"`
	Audience  string    `cbor:"audience" json:"audience"`
	ExpiresAt time.Time `cbor:"expires_at" json:"expiresAt"`
	Issuer    string    `cbor:"issuer" json:"issuer"`
	Verified  bool      `cbor:"verified" json:"verified"`
}
