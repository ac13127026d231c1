// Package settlement turns verified payments into settlement reports. For
// transaction-hash proofs the funds already moved, so settlement is fused
// with verification. For authorization proofs this service submits the
// signed transferWithAuthorization to the asset contract and waits for it
// to be mined before reporting success.
package settlement

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seipaylabs/s402/clients"
	"github.com/seipaylabs/s402/logger"
	"github.com/seipaylabs/s402/metrics"
	"github.com/seipaylabs/s402/replay"
	"github.com/seipaylabs/s402/types"
	"github.com/seipaylabs/s402/verification"
)

const defaultTimeout = 90 * time.Second

// Service settles payments on a single configured network.
type Service struct {
	chain    clients.ChainClient
	verifier *verification.Service
	timeout  time.Duration
	log      logger.Logger
	metrics  metrics.Recorder
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

// NewService creates a settlement service sharing the verifier's chain
// client and replay cache.
func NewService(chain clients.ChainClient, verifier *verification.Service, opts ...Option) *Service {
	s := &Service{
		chain:    chain,
		verifier: verifier,
		timeout:  defaultTimeout,
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle verifies a payment and, for authorization proofs, executes it
// on-chain. It never returns a Go error: every fault becomes a structured
// failure report so facilitator endpoints never throw.
func (s *Service) Settle(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) *types.SettleResponse {
	networkID := s.verifier.Network().Network.String()

	start := time.Now()
	defer func() {
		s.metrics.ObserveLatency("settle", time.Since(start), map[string]string{"network": networkID})
	}()

	verdict, err := s.verifier.Verify(ctx, payload, reqs)
	if err != nil {
		return s.failure(networkID, types.ErrSettlementFailed)
	}
	if !verdict.IsValid {
		return s.failure(networkID, verdict.InvalidReason)
	}

	switch payload.Payload.Kind() {
	case types.ProofKindTxHash:
		// The client already moved the funds; verification confirmed it.
		s.metrics.IncCounter(metrics.EventSettleSuccess, map[string]string{"network": networkID})
		return &types.SettleResponse{
			Success:   true,
			TxHash:    verdict.TxHash,
			NetworkID: networkID,
		}
	case types.ProofKindAuthorization:
		return s.settleAuthorization(ctx, payload.Payload.Authorization, networkID)
	default:
		return s.failure(networkID, types.ErrMissingProof)
	}
}

// settleAuthorization submits the signed authorization and blocks until it
// is mined, bounded by the service timeout. The mined hash is recorded in
// the replay cache so a later tx-hash citation of it verifies without a
// chain read.
func (s *Service) settleAuthorization(ctx context.Context, auth *types.AuthorizationProof, networkID string) *types.SettleResponse {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	asset := common.HexToAddress(s.verifier.Network().AssetAddress)

	txHash, err := s.chain.SubmitTransferAuthorization(ctx, asset, auth)
	if err != nil {
		s.log.Error("authorization submission failed", map[string]any{
			"from":    auth.From,
			"network": networkID,
			"error":   err.Error(),
		})
		return s.failure(networkID, types.ErrSettlementFailed)
	}

	rcpt, err := s.chain.WaitForReceipt(ctx, txHash)
	if err != nil {
		s.log.Error("authorization confirmation failed", map[string]any{
			"txHash":  txHash.Hex(),
			"network": networkID,
			"error":   err.Error(),
		})
		return s.failure(networkID, types.ErrSettlementFailed)
	}
	if !rcpt.Success {
		return s.failure(networkID, types.ErrTxFailed)
	}

	s.verifier.Store().TryInsert(txHash.Hex(), replay.Record{
		Timestamp: time.Now(),
		Amount:    auth.Value,
		From:      auth.From,
	})

	s.log.Info("authorization settled", map[string]any{
		"txHash":  txHash.Hex(),
		"from":    auth.From,
		"value":   auth.Value,
		"network": networkID,
	})
	s.metrics.IncCounter(metrics.EventSettleSuccess, map[string]string{"network": networkID})

	return &types.SettleResponse{
		Success:   true,
		TxHash:    txHash.Hex(),
		NetworkID: networkID,
	}
}

func (s *Service) failure(networkID, reason string) *types.SettleResponse {
	s.metrics.IncCounter(metrics.EventSettleFailure, map[string]string{"network": networkID})
	return &types.SettleResponse{
		Success:   false,
		Error:     reason,
		NetworkID: networkID,
	}
}
