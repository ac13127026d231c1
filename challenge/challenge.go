// Package challenge builds the 402 payment-requirements payload a client
// must satisfy to access a protected resource.
package challenge

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/seipaylabs/s402/config"
	"github.com/seipaylabs/s402/types"
	"github.com/seipaylabs/s402/utils"
)

// DefaultMaxTimeoutSeconds is the advisory validity window of a challenge.
const DefaultMaxTimeoutSeconds = 300

// Build produces the payment requirements for one protected resource. Aside
// from the reference and a clock read it is a pure function of its inputs.
// An unparseable or negative price is a config error.
func Build(resource string, rc config.Resource, nc types.NetworkConfig, recipient string) (types.PaymentRequirements, error) {
	amount, err := utils.ParseAmountWithDecimals(rc.Price, nc.AssetDecimals)
	if err != nil {
		return types.PaymentRequirements{}, &types.S402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("invalid price for %s: %v", resource, err),
		}
	}

	return types.PaymentRequirements{
		Scheme:            string(types.SchemeExact),
		Network:           nc.Network.String(),
		MaxAmountRequired: amount.String(),
		Resource:          resource,
		Description:       rc.Description,
		MimeType:          rc.MimeType,
		PayTo:             recipient,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
		Asset:             nc.AssetAddress,
		Extra: map[string]interface{}{
			"name":      nc.AssetName,
			"version":   nc.AssetVersion,
			"reference": newReference(),
		},
	}, nil
}

// Envelope wraps requirements in the 402 response body, with an optional
// error from a failed verification so the client can correct and retry.
func Envelope(req types.PaymentRequirements, errMsg string) types.PaymentRequired {
	return types.PaymentRequired{
		X402Version: types.X402Version,
		Accepts:     []types.PaymentRequirements{req},
		Error:       errMsg,
	}
}

// newReference generates the per-challenge opaque reference. It is advisory
// only and not bound to the eventual proof, so collisions are harmless.
func newReference() string {
	return fmt.Sprintf("sei-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
