// Package server assembles the gin router: the payment-gated sample
// resources, the facilitator endpoints, and the operational endpoints.
package server

import (
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seipaylabs/s402"
	"github.com/seipaylabs/s402/config"
	"github.com/seipaylabs/s402/logger"
	"github.com/seipaylabs/s402/middleware"
	"github.com/seipaylabs/s402/types"
)

// Server owns the router and the payment core it serves.
type Server struct {
	core *s402.S402
	cfg  *config.Config
	log  logger.Logger

	engine *gin.Engine
}

// New builds the router. registry may be nil to disable the /metrics
// endpoint.
func New(core *s402.S402, cfg *config.Config, log logger.Logger, registry *prometheus.Registry) *Server {
	s := &Server{
		core: core,
		cfg:  cfg,
		log:  log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.cors())
	engine.Use(middleware.Gate(middleware.Config{
		Resources: cfg.Resources,
		Network:   core.Network(),
		Recipient: cfg.Recipient,
		Verifier:  core.Verifier(),
		Settler:   core.Settler(),
		Logger:    log,
	}))

	engine.GET("/api/weather", s.weather)
	engine.GET("/api/premium-data", s.premiumData)
	engine.GET("/api/ai-completion", s.aiCompletion)

	engine.POST("/verify", s.verify)
	engine.POST("/settle", s.settle)
	engine.GET("/supported", s.supported)
	engine.GET("/health", s.health)

	if registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	s.engine = engine
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-PAYMENT")
		c.Header("Access-Control-Expose-Headers", middleware.ResponseHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// weather serves the cheapest sample resource.
func (s *Server) weather(c *gin.Context) {
	payment, _ := middleware.FromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"location":    "San Francisco",
		"temperature": 15 + rand.Intn(10),
		"conditions":  "Partly cloudy",
		"humidity":    60 + rand.Intn(20),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"paidBy":      payment.Payer,
	})
}

func (s *Server) premiumData(c *gin.Context) {
	payment, _ := middleware.FromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"marketAnalysis": "Bullish trend detected across DeFi tokens",
			"confidence":     0.87,
			"signals":        []string{"volume_spike", "whale_accumulation"},
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"paidBy":    payment.Payer,
	})
}

func (s *Server) aiCompletion(c *gin.Context) {
	payment, _ := middleware.FromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"completion": "The x402 protocol enables machine-to-machine payments over plain HTTP, settling in stablecoins without accounts or API keys.",
		"model":      "demo-1",
		"tokensUsed": 42,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"paidBy":     payment.Payer,
	})
}

// verify is the facilitator verification endpoint. It always answers 200
// with a structured verdict; malformed requests become invalid verdicts
// rather than HTTP errors.
func (s *Server) verify(c *gin.Context) {
	var req types.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, types.VerifyResponse{
			IsValid:       false,
			InvalidReason: types.ErrMalformedHeader,
		})
		return
	}
	if req.X402Version != types.X402Version {
		c.JSON(http.StatusOK, types.VerifyResponse{
			IsValid:       false,
			InvalidReason: types.ErrUnsupportedVersion,
		})
		return
	}

	payload, err := types.DecodePaymentHeader(req.PaymentHeader)
	if err != nil {
		c.JSON(http.StatusOK, types.VerifyResponse{
			IsValid:       false,
			InvalidReason: decodeReason(err),
		})
		return
	}

	verdict, err := s.core.Verify(c.Request.Context(), payload, &req.PaymentRequirements)
	if err != nil {
		c.JSON(http.StatusOK, types.VerifyResponse{
			IsValid:       false,
			InvalidReason: types.ErrVerificationError,
		})
		return
	}
	c.JSON(http.StatusOK, verdict)
}

// settle is the facilitator settlement endpoint. Like verify it never
// throws; every fault is a structured failure report.
func (s *Server) settle(c *gin.Context) {
	networkID := s.core.Network().Network.String()

	var req types.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, types.SettleResponse{
			Success:   false,
			Error:     types.ErrMalformedHeader,
			NetworkID: networkID,
		})
		return
	}
	if req.X402Version != types.X402Version {
		c.JSON(http.StatusOK, types.SettleResponse{
			Success:   false,
			Error:     types.ErrUnsupportedVersion,
			NetworkID: networkID,
		})
		return
	}

	payload, err := types.DecodePaymentHeader(req.PaymentHeader)
	if err != nil {
		c.JSON(http.StatusOK, types.SettleResponse{
			Success:   false,
			Error:     decodeReason(err),
			NetworkID: networkID,
		})
		return
	}

	c.JSON(http.StatusOK, s.core.Settle(c.Request.Context(), payload, &req.PaymentRequirements))
}

func (s *Server) supported(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Supported())
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Health())
}

func decodeReason(err error) string {
	if e, ok := err.(*types.S402Error); ok {
		return e.Code
	}
	return types.ErrMalformedHeader
}
