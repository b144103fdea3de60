package grpc

// Message types of gophid.IdentityService. Times travel as unix
// milliseconds.

type Empty struct{}

type PingResponse struct {
	Status string `cbor:"status"`
}

type VerifyRequest struct {
	Assertion       string `cbor:"assertion"`
	Audience        string `cbor:"audience"`
	ForceIssuer     string `cbor:"force_issuer,omitempty"`
	AllowUnverified bool   `cbor:"allow_unverified,omitempty"`
}

// VerifyResponse reports Status "okay" with the identity, or "failure" with
// Kind and Reason. A verified address is in Email; an unverified one only
// ever travels in UnverifiedEmail.
type VerifyResponse struct {
	Status          string `cbor:"status"`
	Email           string `cbor:"email,omitempty"`
	UnverifiedEmail string `cbor:"unverified-email,omitempty"`
	Audience        string `cbor:"audience,omitempty"`
	Expires         int64  `cbor:"expires,omitempty"`
	Issuer          string `cbor:"issuer,omitempty"`
	Verified        bool   `cbor:"verified"`
	Kind            string `cbor:"kind,omitempty"`
	Reason          string `cbor:"reason,omitempty"`
}

type AddressInfoRequest struct {
	Email string `cbor:"email"`
}

type AddressInfoResponse struct {
	Type            string `cbor:"type"`
	State           string `cbor:"state"`
	Issuer          string `cbor:"issuer"`
	NormalizedEmail string `cbor:"normalized_email"`
	Verified        bool   `cbor:"verified"`
	HasPassword     bool   `cbor:"has_password"`
}

// StageUserRequest with AllowUnverified creates the account at once and
// leaves the address unverified until the mailed secret is redeemed.
type StageUserRequest struct {
	Email           string `cbor:"email"`
	Password        string `cbor:"password"`
	Site            string `cbor:"site,omitempty"`
	AllowUnverified bool   `cbor:"allow_unverified,omitempty"`
}

type StageEmailRequest struct {
	Email    string `cbor:"email"`
	Password string `cbor:"password,omitempty"`
	Site     string `cbor:"site,omitempty"`
}

type StageResetRequest struct {
	Email string `cbor:"email"`
	Site  string `cbor:"site,omitempty"`
}

type StageTransitionRequest struct {
	Email    string `cbor:"email"`
	Password string `cbor:"password,omitempty"`
	Site     string `cbor:"site,omitempty"`
}

// StageResponse carries the pending token that proves a later redemption
// comes from the same client. The secret itself is only mailed.
type StageResponse struct {
	PendingToken string `cbor:"pending_token"`
	Unverified   bool   `cbor:"unverified,omitempty"`
}

type CompleteRequest struct {
	Secret       string `cbor:"secret"`
	PendingToken string `cbor:"pending_token,omitempty"`
	Password     string `cbor:"password,omitempty"`
}

type CompleteResetRequest struct {
	Secret       string `cbor:"secret"`
	PendingToken string `cbor:"pending_token,omitempty"`
	Password     string `cbor:"password,omitempty"`
	NewPassword  string `cbor:"new_password"`
}

type SessionResponse struct {
	UserID       int64  `cbor:"user_id"`
	Email        string `cbor:"email"`
	SessionToken string `cbor:"session_token"`
}

type ConfirmationResponse struct {
	UserID int64  `cbor:"user_id"`
	Email  string `cbor:"email"`
}

type AuthenticateRequest struct {
	Email    string `cbor:"email"`
	Password string `cbor:"password"`
}

type AssertionRequest struct {
	Assertion string `cbor:"assertion"`
	Audience  string `cbor:"audience"`
}

type EmailResponse struct {
	Email string `cbor:"email"`
}

type ListEmailsResponse struct {
	Emails []string `cbor:"emails"`
}

type RemoveEmailRequest struct {
	Email string `cbor:"email"`
}

type SessionInfoResponse struct {
	UserID    int64  `cbor:"user_id"`
	AuthLevel string `cbor:"auth_level"`
	IssuedAt  int64  `cbor:"issued_at"`
	ExpiresAt int64  `cbor:"expires_at"`
}
