// Package verification implements the payment-proof verifier: the decision
// procedure that checks a decoded payment payload against the server's
// configured network, asset and recipient, consulting the chain and the
// replay cache.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seipaylabs/s402/clients"
	"github.com/seipaylabs/s402/logger"
	"github.com/seipaylabs/s402/metrics"
	"github.com/seipaylabs/s402/replay"
	"github.com/seipaylabs/s402/types"
)

const defaultTimeout = 30 * time.Second

// Service verifies payment proofs for a single configured network. Chain
// access and the replay cache are injected so the service is testable with
// fakes and owns no global state.
type Service struct {
	chain   clients.ChainClient
	store   *replay.Store
	network types.NetworkConfig
	timeout time.Duration
	log     logger.Logger
	metrics metrics.Recorder
}

// Option configures a Service.
type Option func(*Service)

func WithTimeout(t time.Duration) Option {
	return func(s *Service) { s.timeout = t }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// NewService creates a verifier bound to one network configuration.
func NewService(chain clients.ChainClient, store *replay.Store, network types.NetworkConfig, opts ...Option) *Service {
	s := &Service{
		chain:   chain,
		store:   store,
		network: network,
		timeout: defaultTimeout,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the replay cache so settlement can record hashes it mined.
func (s *Service) Store() *replay.Store {
	return s.store
}

// Network returns the network configuration the service verifies against.
func (s *Service) Network() types.NetworkConfig {
	return s.network
}

// Verify checks a payment payload against requirements. Invalid proofs are
// reported in the result, never as a Go error; a non-nil error only means
// the inputs were unusable. Chain-access faults become the
// verification_error reason with the cause logged, so transient failures
// are never mistaken for valid or permanently-invalid payments.
func (s *Service) Verify(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.VerifyResponse, error) {
	if payload == nil || reqs == nil {
		return nil, fmt.Errorf("payload and requirements are required")
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency("verify", time.Since(start), s.labels())
	}()

	res := s.verify(ctx, payload, reqs)

	if res.IsValid {
		s.metrics.IncCounter(metrics.EventVerifyValid, s.labels())
	} else {
		s.metrics.IncCounter(metrics.EventVerifyInvalid, s.labels())
	}
	return res, nil
}

func (s *Service) verify(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) *types.VerifyResponse {
	if payload.X402Version != types.X402Version {
		return invalid(types.ErrUnsupportedVersion)
	}
	if payload.Network != s.network.Network.String() {
		return invalid(types.ErrInvalidNetwork)
	}
	if payload.Scheme != string(types.SchemeExact) {
		return invalid(types.ErrUnsupportedScheme)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch payload.Payload.Kind() {
	case types.ProofKindTxHash:
		return s.verifyTxHash(ctx, payload.Payload.TxHash)
	case types.ProofKindAuthorization:
		return s.verifyAuthorization(payload.Payload.Authorization, reqs)
	default:
		return invalid(types.ErrMissingProof)
	}
}

// verifyTxHash validates a proof citing an already-executed transfer. The
// replay cache is consulted first; a hash verified once is never re-read
// from the chain, and concurrent verifications of one unseen hash collapse
// into a single chain read.
func (s *Service) verifyTxHash(ctx context.Context, proof *types.TxHashProof) *types.VerifyResponse {
	hash := proof.TxHash

	for {
		status, rec, done := s.store.Begin(hash)
		switch status {
		case replay.StatusHit:
			s.metrics.IncCounter(metrics.EventVerifyCacheHit, s.labels())
			return &types.VerifyResponse{
				IsValid: true,
				Payer:   rec.From,
				TxHash:  hash,
				Cached:  true,
			}
		case replay.StatusInFlight:
			if err := s.store.Wait(ctx, done); err != nil {
				return s.chainFault(hash, err)
			}
			// Owner finished; loop to observe its outcome or re-claim.
			continue
		case replay.StatusClaimed:
			return s.verifyTxHashOnChain(ctx, proof)
		}
	}
}

func (s *Service) verifyTxHashOnChain(ctx context.Context, proof *types.TxHashProof) *types.VerifyResponse {
	hash := proof.TxHash

	rcpt, err := s.chain.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		s.store.Release(hash)
		if errors.Is(err, clients.ErrReceiptNotFound) {
			return invalid(types.ErrTxNotFound)
		}
		return s.chainFault(hash, err)
	}

	if !rcpt.Success {
		s.store.Release(hash)
		return invalid(types.ErrTxFailed)
	}

	// The transfer must have been a call into the configured asset
	// contract; anything else did not move the stablecoin.
	if !strings.EqualFold(rcpt.To.Hex(), s.network.AssetAddress) {
		s.store.Release(hash)
		return invalid(types.ErrInvalidRecipient)
	}

	s.store.Commit(hash, replay.Record{
		Timestamp: time.Now(),
		Amount:    proof.Amount,
		From:      proof.From,
	})

	s.log.Info("payment verified", map[string]any{
		"txHash":  hash,
		"from":    proof.From,
		"network": s.network.Network.String(),
	})

	return &types.VerifyResponse{
		IsValid: true,
		Payer:   proof.From,
		TxHash:  hash,
	}
}

// verifyAuthorization validates an EIP-3009 authorization without touching
// the chain: signature recovery, validity window, amount and recipient.
// Fund movement happens later, in settlement.
func (s *Service) verifyAuthorization(auth *types.AuthorizationProof, reqs *types.PaymentRequirements) *types.VerifyResponse {
	signer, err := clients.RecoverAuthorizationSigner(
		auth,
		big.NewInt(s.network.ChainID),
		common.HexToAddress(s.network.AssetAddress),
		s.network.AssetName,
		s.network.AssetVersion,
	)
	if err != nil || !strings.EqualFold(signer.Hex(), auth.From) {
		return invalid(types.ErrInvalidSignature)
	}

	validAfter, okAfter := new(big.Int).SetString(auth.ValidAfter, 10)
	validBefore, okBefore := new(big.Int).SetString(auth.ValidBefore, 10)
	if !okAfter || !okBefore {
		return invalid(types.ErrInvalidSignature)
	}

	now := big.NewInt(time.Now().Unix())
	if now.Cmp(validAfter) < 0 {
		return invalid(types.ErrAuthNotYetValid)
	}
	if now.Cmp(validBefore) > 0 {
		return invalid(types.ErrAuthExpired)
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(types.ErrInsufficientAmount)
	}
	required, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10)
	if !ok {
		return invalid(types.ErrInsufficientAmount)
	}
	if value.Cmp(required) < 0 {
		return invalid(types.ErrInsufficientAmount)
	}

	if !strings.EqualFold(auth.To, reqs.PayTo) {
		return invalid(types.ErrInvalidRecipient)
	}

	return &types.VerifyResponse{
		IsValid: true,
		Payer:   auth.From,
	}
}

func (s *Service) chainFault(hash string, err error) *types.VerifyResponse {
	s.log.Error("chain access failed during verification", map[string]any{
		"txHash":  hash,
		"network": s.network.Network.String(),
		"error":   err.Error(),
	})
	s.metrics.IncCounter(metrics.EventVerificationError, s.labels())
	return invalid(types.ErrVerificationError)
}

func (s *Service) labels() map[string]string {
	return map[string]string{"network": s.network.Network.String()}
}

func invalid(reason string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: reason}
}
