package common

// SessionTokenHeaderName is the gRPC metadata key carrying the session token.
const SessionTokenHeaderName = "session_token"

// SecretSize is the number of random bytes behind a staged secret. Hex
// encoding yields the 48 character tokens handed out in verification links.
const SecretSize = 24
