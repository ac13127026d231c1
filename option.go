package s402

import (
	"github.com/seipaylabs/s402/clients"
	"github.com/seipaylabs/s402/logger"
	"github.com/seipaylabs/s402/metrics"
)

// Option customizes an S402 instance.
type Option func(*S402)

// WithLogger installs a logger for the wired services.
func WithLogger(l logger.Logger) Option {
	return func(s *S402) { s.log = l }
}

// WithMetrics installs a metrics recorder for the wired services.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *S402) { s.rec = r }
}

// WithChainClient injects a chain client, replacing the RPC dial. Used by
// tests and by deployments that manage the connection themselves.
func WithChainClient(c clients.ChainClient) Option {
	return func(s *S402) { s.chain = c }
}
