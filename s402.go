// Package s402 is the top-level facade of the payment gateway: it wires the
// chain client, replay cache, verifier and settler for one network and
// exposes the facilitator operations as plain methods.
package s402

import (
	"context"

	"github.com/seipaylabs/s402/clients"
	"github.com/seipaylabs/s402/logger"
	"github.com/seipaylabs/s402/metrics"
	"github.com/seipaylabs/s402/replay"
	"github.com/seipaylabs/s402/settlement"
	"github.com/seipaylabs/s402/types"
	"github.com/seipaylabs/s402/verification"
)

// S402 bundles the payment services for one configured network.
type S402 struct {
	network   types.NetworkConfig
	recipient string

	chain    clients.ChainClient
	store    *replay.Store
	verifier *verification.Service
	settler  *settlement.Service

	log logger.Logger
	rec metrics.Recorder
}

// New connects to the network's RPC endpoint and assembles the services.
// privateKey may be empty; settlement of authorization proofs then fails
// at submission time rather than at startup.
func New(network types.NetworkConfig, recipient, privateKey string, opts ...Option) (*S402, error) {
	s := &S402{
		network:   network,
		recipient: recipient,
		store:     replay.NewStore(),
		log:       logger.NoopLogger{},
		rec:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.chain == nil {
		evm, err := clients.NewEVMClient(network.Network, network.RPCURL)
		if err != nil {
			return nil, err
		}
		if privateKey != "" {
			if err := evm.SetSettlementKey(privateKey); err != nil {
				evm.Close()
				return nil, err
			}
		}
		s.chain = evm
	}

	s.verifier = verification.NewService(s.chain, s.store, network,
		verification.WithLogger(s.log),
		verification.WithMetrics(s.rec),
	)
	s.settler = settlement.NewService(s.chain, s.verifier,
		settlement.WithLogger(s.log),
		settlement.WithMetrics(s.rec),
	)
	return s, nil
}

// Verifier returns the payment verifier.
func (s *S402) Verifier() *verification.Service {
	return s.verifier
}

// Settler returns the settlement service.
func (s *S402) Settler() *settlement.Service {
	return s.settler
}

// Network returns the resolved network configuration.
func (s *S402) Network() types.NetworkConfig {
	return s.network
}

// Recipient returns the configured payment recipient address.
func (s *S402) Recipient() string {
	return s.recipient
}

// Verify checks a payment payload against requirements.
func (s *S402) Verify(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.VerifyResponse, error) {
	return s.verifier.Verify(ctx, payload, reqs)
}

// Settle verifies and executes a payment, reporting the outcome.
func (s *S402) Settle(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) *types.SettleResponse {
	return s.settler.Settle(ctx, payload, reqs)
}

// Supported lists the scheme and network pairs this deployment accepts.
func (s *S402) Supported() types.SupportedResponse {
	kinds := make([]types.SupportedKind, 0, len(types.SupportedNetworks()))
	for _, n := range types.SupportedNetworks() {
		kinds = append(kinds, types.SupportedKind{
			Scheme:  string(types.SchemeExact),
			Network: n.String(),
		})
	}
	return types.SupportedResponse{Kinds: kinds}
}

// Health reports the deployment's static configuration.
func (s *S402) Health() types.HealthResponse {
	return types.HealthResponse{
		Status:      "healthy",
		Network:     s.network.Network.String(),
		ChainID:     s.network.ChainID,
		USDCAddress: s.network.AssetAddress,
		Recipient:   s.recipient,
	}
}

// Close releases the underlying chain connection.
func (s *S402) Close() {
	if s.chain != nil {
		s.chain.Close()
	}
}
