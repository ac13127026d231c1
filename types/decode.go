package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// DecodePaymentHeader parses an X-PAYMENT header value: base64, then JSON,
// then structural validation. It performs no chain access. Failures carry
// one of the decode reason codes (malformed_header, unsupported_version,
// missing_proof).
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, &S402Error{
			Code:    ErrMalformedHeader,
			Message: fmt.Sprintf("payment header is not valid base64: %v", err),
		}
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &S402Error{
			Code:    ErrMalformedHeader,
			Message: fmt.Sprintf("payment header is not valid JSON: %v", err),
		}
	}

	if payload.X402Version != X402Version {
		return nil, &S402Error{
			Code:    ErrUnsupportedVersion,
			Message: fmt.Sprintf("unsupported x402 version %d, want %d", payload.X402Version, X402Version),
		}
	}

	if payload.Payload.Kind() == ProofKindNone {
		return nil, &S402Error{
			Code:    ErrMissingProof,
			Message: "payload carries neither a transaction hash nor an authorization signature",
		}
	}

	return &payload, nil
}

// EncodePaymentHeader is the inverse of DecodePaymentHeader, used by clients
// and tests to build an X-PAYMENT header value.
func EncodePaymentHeader(payload *PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
