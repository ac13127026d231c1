// Package types defines the wire-level data model of the s402 payment
// protocol: payment requirements, payment payloads, and the request and
// response shapes used by the facilitator endpoints.
package types

import (
	"encoding/json"
	"fmt"
)

// X402Version is the protocol version this server implements. Payloads
// carrying any other version are rejected during decoding.
const X402Version = 1

// PaymentScheme identifies how the payment amount is interpreted.
type PaymentScheme string

const (
	// SchemeExact requires the payment to cover maxAmountRequired exactly
	// (or more, for authorization proofs). It is the only implemented scheme.
	SchemeExact PaymentScheme = "exact"
)

// PaymentRequirements describes one way a protected resource accepts payment.
// It is the element of the `accepts` array of a 402 response.
type PaymentRequirements struct {
	// Scheme of the payment protocol, currently always "exact".
	Scheme string `json:"scheme" validate:"required"`

	// Network the payment must be made on ("sei" or "sei-testnet").
	Network string `json:"network" validate:"required"`

	// MaxAmountRequired is the price in atomic units of the asset,
	// represented as a decimal string because Go has no uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// Resource is the path of the resource being purchased.
	Resource string `json:"resource"`

	// Description of the resource being purchased.
	Description string `json:"description"`

	// MimeType of the resource response.
	MimeType string `json:"mimeType"`

	// PayTo is the address the payment must be sent to.
	PayTo string `json:"payTo" validate:"required"`

	// MaxTimeoutSeconds is the advisory validity window of the challenge.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the stablecoin contract address on the selected network.
	Asset string `json:"asset" validate:"required"`

	// Extra carries scheme-specific metadata: asset name, EIP-712 version
	// and the server-generated challenge reference.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Validate checks that the requirements carry every field verification needs.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}
	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}
	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}
	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}
	return nil
}

// PaymentRequired is the body of a 402 response: the protocol version, the
// requirements the server accepts, and an optional error from a failed
// verification attempt so the client can correct and retry.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// ProofKind discriminates the two payment proofs of the exact scheme.
type ProofKind int

const (
	// ProofKindNone means the payload carried no recognizable proof.
	ProofKindNone ProofKind = iota
	// ProofKindTxHash cites an already-executed on-chain transfer.
	ProofKindTxHash
	// ProofKindAuthorization carries a signed EIP-3009 transfer
	// authorization the server may submit on the client's behalf.
	ProofKindAuthorization
)

// TxHashProof cites a transfer the client already executed on-chain.
type TxHashProof struct {
	TxHash string `json:"txHash"`
	Amount string `json:"amount,omitempty"`
	From   string `json:"from,omitempty"`
}

// AuthorizationProof is an EIP-3009 transferWithAuthorization signed by the
// payer. The server (or a facilitator) submits it to the asset contract.
type AuthorizationProof struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256, atomic units
	ValidAfter  string `json:"validAfter"`  // uint256 unix timestamp
	ValidBefore string `json:"validBefore"` // uint256 unix timestamp
	Nonce       string `json:"nonce"`       // bytes32 hex
	Signature   string `json:"signature"`   // 65-byte ECDSA signature, hex
}

// ExactPayload is the tagged union over the two proof kinds. Exactly one of
// the two pointers is set after a successful decode; the wire format is the
// flat JSON object of the active variant.
type ExactPayload struct {
	TxHash        *TxHashProof        `json:"-"`
	Authorization *AuthorizationProof `json:"-"`
}

// Kind reports which proof variant is present.
func (p *ExactPayload) Kind() ProofKind {
	switch {
	case p.TxHash != nil:
		return ProofKindTxHash
	case p.Authorization != nil:
		return ProofKindAuthorization
	default:
		return ProofKindNone
	}
}

// MarshalJSON emits the flat object of the active variant.
func (p ExactPayload) MarshalJSON() ([]byte, error) {
	switch {
	case p.TxHash != nil:
		return json.Marshal(p.TxHash)
	case p.Authorization != nil:
		return json.Marshal(p.Authorization)
	default:
		return []byte("{}"), nil
	}
}

// UnmarshalJSON selects the variant from the fields present. A payload
// carrying both a transaction hash and an authorization signature is
// ambiguous and rejected; one carrying neither leaves both variants nil,
// which the decoder reports as a missing proof.
func (p *ExactPayload) UnmarshalJSON(data []byte) error {
	var probe struct {
		TxHash    string `json:"txHash"`
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	switch {
	case probe.TxHash != "" && probe.Signature != "":
		return fmt.Errorf("payload carries both a txHash and an authorization signature")
	case probe.TxHash != "":
		p.TxHash = &TxHashProof{}
		return json.Unmarshal(data, p.TxHash)
	case probe.Signature != "":
		p.Authorization = &AuthorizationProof{}
		return json.Unmarshal(data, p.Authorization)
	default:
		return nil
	}
}

// PaymentPayload is the client-constructed proof of payment carried in the
// X-PAYMENT header as base64-encoded JSON.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// VerifyRequest is the body of the facilitator /verify and /settle endpoints.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version" validate:"required"`
	PaymentHeader       string              `json:"paymentHeader" validate:"required"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse reports a verification outcome to facilitator callers.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer and TxHash let downstream handlers attribute the payment.
	Payer  string `json:"payer,omitempty"`
	TxHash string `json:"txHash,omitempty"`

	// Cached marks a replay-cache hit, for observability.
	Cached bool `json:"cached,omitempty"`
}

// SettleResponse reports a settlement outcome. It doubles as the payload of
// the X-PAYMENT-RESPONSE header on successfully gated resource responses.
type SettleResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	NetworkID string `json:"networkId"`
}

// SupportedKind is one scheme+network pair the server accepts.
type SupportedKind struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Network     string `json:"network"`
	ChainID     int64  `json:"chainId"`
	USDCAddress string `json:"usdcAddress"`
	Recipient   string `json:"recipient"`
}
