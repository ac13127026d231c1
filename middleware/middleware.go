// Package middleware provides the gin payment gate: requests to configured
// resources must carry a valid X-PAYMENT header or receive a 402 challenge.
package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seipaylabs/s402/challenge"
	"github.com/seipaylabs/s402/config"
	"github.com/seipaylabs/s402/logger"
	"github.com/seipaylabs/s402/metrics"
	"github.com/seipaylabs/s402/types"
)

// PaymentHeader carries the client's proof; ResponseHeader reports the
// settlement outcome on a successful response.
const (
	PaymentHeader  = "X-PAYMENT"
	ResponseHeader = "X-PAYMENT-RESPONSE"
)

const contextKey = "s402/payment"

// Verifier checks a decoded payment payload against requirements.
type Verifier interface {
	Verify(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.VerifyResponse, error)
}

// Settler executes a verified payment and reports the outcome.
type Settler interface {
	Settle(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) *types.SettleResponse
}

// Payment is what handlers behind the gate see about the payment that
// admitted the request.
type Payment struct {
	Payer  string
	TxHash string
	Amount string
}

// Config wires the gate to the price table and the payment core.
type Config struct {
	Resources map[string]config.Resource
	Network   types.NetworkConfig
	Recipient string
	Verifier  Verifier

	// Settler is consulted for authorization proofs, which require an
	// on-chain submission before the resource is served. Optional; when
	// nil, authorization proofs are admitted on verification alone.
	Settler Settler

	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Gate returns the middleware. Paths absent from the resource table pass
// through untouched.
func Gate(cfg Config) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = logger.NoopLogger{}
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	labels := map[string]string{"network": cfg.Network.Network.String()}

	return func(c *gin.Context) {
		res, protected := cfg.Resources[c.Request.URL.Path]
		if !protected {
			c.Next()
			return
		}

		reqs, err := challenge.Build(c.Request.URL.Path, res, cfg.Network, cfg.Recipient)
		if err != nil {
			log.Error("challenge build failed", map[string]any{
				"resource": c.Request.URL.Path,
				"error":    err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		header := c.GetHeader(PaymentHeader)
		if header == "" {
			rec.IncCounter(metrics.EventChallenge, labels)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge.Envelope(reqs, ""))
			return
		}

		payload, err := types.DecodePaymentHeader(header)
		if err != nil {
			rec.IncCounter(metrics.EventChallenge, labels)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge.Envelope(reqs, reasonOf(err)))
			return
		}

		verdict, err := cfg.Verifier.Verify(c.Request.Context(), payload, &reqs)
		if err != nil {
			log.Error("verification failed", map[string]any{
				"resource": c.Request.URL.Path,
				"error":    err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge.Envelope(reqs, types.ErrVerificationError))
			return
		}
		if !verdict.IsValid {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge.Envelope(reqs, verdict.InvalidReason))
			return
		}

		settled := &types.SettleResponse{
			Success:   true,
			TxHash:    verdict.TxHash,
			NetworkID: cfg.Network.Network.String(),
		}

		// Authorization proofs only promise funds; the transfer has to be
		// executed before the resource is released.
		if payload.Payload.Kind() == types.ProofKindAuthorization && cfg.Settler != nil {
			settled = cfg.Settler.Settle(c.Request.Context(), payload, &reqs)
			if !settled.Success {
				c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge.Envelope(reqs, settled.Error))
				return
			}
		}

		c.Set(contextKey, Payment{
			Payer:  verdict.Payer,
			TxHash: settled.TxHash,
			Amount: reqs.MaxAmountRequired,
		})
		if encoded, err := encodeSettlement(settled); err == nil {
			c.Header(ResponseHeader, encoded)
		}
		c.Next()
	}
}

// FromContext returns the payment that admitted the request, if any.
func FromContext(c *gin.Context) (Payment, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Payment{}, false
	}
	p, ok := v.(Payment)
	return p, ok
}

func encodeSettlement(s *types.SettleResponse) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// reasonOf maps decode failures to their protocol reason codes; anything
// unclassified is a malformed header.
func reasonOf(err error) string {
	var s402Err *types.S402Error
	if errors.As(err, &s402Err) {
		return s402Err.Code
	}
	return types.ErrMalformedHeader
}
