package types

// S402Error is the typed protocol error. Code is one of the snake_case
// reason constants below and is what facilitator callers see in
// invalidReason fields.
type S402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *S402Error) Error() string {
	return e.Message
}

// NewError builds an S402Error with a formatted-free message.
func NewError(code, message string) *S402Error {
	return &S402Error{Code: code, Message: message}
}

// Decode failures: the client's header could not be turned into a payload.
const (
	ErrMalformedHeader    = "malformed_header"
	ErrUnsupportedVersion = "unsupported_version"
	ErrMissingProof       = "missing_proof"
)

// Verification failures: the payload decoded but the proof is invalid.
const (
	ErrInvalidNetwork     = "invalid_network"
	ErrUnsupportedScheme  = "unsupported_scheme"
	ErrTxNotFound         = "tx_not_found"
	ErrTxFailed           = "tx_failed"
	ErrInvalidRecipient   = "invalid_recipient"
	ErrInvalidSignature   = "invalid_signature"
	ErrAuthNotYetValid    = "authorization_not_yet_valid"
	ErrAuthExpired        = "authorization_expired"
	ErrInsufficientAmount = "insufficient_amount"
)

// Infrastructure faults. verification_error marks a transient chain-access
// failure the client should retry with backoff; it is never silently
// converted to a valid or permanently-invalid outcome.
const (
	ErrVerificationError = "verification_error"
	ErrSettlementFailed  = "settlement_failed"
	ErrConfigError       = "config_error"
)
