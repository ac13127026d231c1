package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seipaylabs/s402/config"
	"github.com/seipaylabs/s402/types"
)

const testRecipient = "0x38A3cba9B40b84a95A94d2B9F6ad6b5457C1317C"

type stubVerifier struct {
	verdict *types.VerifyResponse
	err     error
	calls   int
}

func (s *stubVerifier) Verify(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) (*types.VerifyResponse, error) {
	s.calls++
	return s.verdict, s.err
}

type stubSettler struct {
	result *types.SettleResponse
	calls  int
}

func (s *stubSettler) Settle(ctx context.Context, payload *types.PaymentPayload, reqs *types.PaymentRequirements) *types.SettleResponse {
	s.calls++
	return s.result
}

func newGatedRouter(t *testing.T, verifier Verifier, settler Settler) *gin.Engine {
	t.Helper()
	nc, err := types.ConfigForNetwork(types.NetworkSeiTestnet)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Gate(Config{
		Resources: map[string]config.Resource{
			"/api/weather": {Price: "0.001", Description: "weather", MimeType: "application/json"},
		},
		Network:   nc,
		Recipient: testRecipient,
		Verifier:  verifier,
		Settler:   settler,
	}))
	r.GET("/api/weather", func(c *gin.Context) {
		payment, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"ok": true, "paidBy": payment.Payer})
	})
	r.GET("/free", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"free": true})
	})
	return r
}

func paymentHeader(t *testing.T, payload types.ExactPayload) string {
	t.Helper()
	header, err := types.EncodePaymentHeader(&types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      string(types.SchemeExact),
		Network:     "sei-testnet",
		Payload:     payload,
	})
	require.NoError(t, err)
	return header
}

func txHeader(t *testing.T) string {
	return paymentHeader(t, types.ExactPayload{
		TxHash: &types.TxHashProof{TxHash: "0x" + strings.Repeat("ab", 32), Amount: "1000"},
	})
}

func do(r *gin.Engine, path, payment string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if payment != "" {
		req.Header.Set(PaymentHeader, payment)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGateIgnoresUnlistedPaths(t *testing.T) {
	verifier := &stubVerifier{}
	r := newGatedRouter(t, verifier, nil)

	w := do(r, "/free", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, verifier.calls)
}

func TestGateChallengesWithoutPayment(t *testing.T) {
	r := newGatedRouter(t, &stubVerifier{}, nil)

	w := do(r, "/api/weather", "")
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body types.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.X402Version, body.X402Version)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "1000", body.Accepts[0].MaxAmountRequired)
	assert.Equal(t, "/api/weather", body.Accepts[0].Resource)
	assert.Equal(t, testRecipient, body.Accepts[0].PayTo)
	assert.Empty(t, body.Error)
}

func TestGateRejectsMalformedHeader(t *testing.T) {
	verifier := &stubVerifier{}
	r := newGatedRouter(t, verifier, nil)

	w := do(r, "/api/weather", "!!!not-base64!!!")
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body types.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.ErrMalformedHeader, body.Error)
	assert.Equal(t, 0, verifier.calls)
}

func TestGateRechallengesInvalidPayment(t *testing.T) {
	r := newGatedRouter(t, &stubVerifier{
		verdict: &types.VerifyResponse{IsValid: false, InvalidReason: types.ErrTxFailed},
	}, nil)

	w := do(r, "/api/weather", txHeader(t))
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body types.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.ErrTxFailed, body.Error)
	require.Len(t, body.Accepts, 1)
}

func TestGateAdmitsValidTxProof(t *testing.T) {
	r := newGatedRouter(t, &stubVerifier{
		verdict: &types.VerifyResponse{
			IsValid: true,
			Payer:   "0x1111111111111111111111111111111111111111",
			TxHash:  "0x" + strings.Repeat("ab", 32),
		},
	}, nil)

	w := do(r, "/api/weather", txHeader(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0x1111111111111111111111111111111111111111")

	encoded := w.Header().Get(ResponseHeader)
	require.NotEmpty(t, encoded)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	var settled types.SettleResponse
	require.NoError(t, json.Unmarshal(raw, &settled))
	assert.True(t, settled.Success)
	assert.Equal(t, "sei-testnet", settled.NetworkID)
}

func TestGateSettlesAuthorizationBeforeServing(t *testing.T) {
	settler := &stubSettler{
		result: &types.SettleResponse{
			Success:   true,
			TxHash:    "0x" + strings.Repeat("ef", 32),
			NetworkID: "sei-testnet",
		},
	}
	r := newGatedRouter(t, &stubVerifier{
		verdict: &types.VerifyResponse{IsValid: true, Payer: "0x1111111111111111111111111111111111111111"},
	}, settler)

	header := paymentHeader(t, types.ExactPayload{
		Authorization: &types.AuthorizationProof{
			From:        "0x1111111111111111111111111111111111111111",
			To:          testRecipient,
			Value:       "1000",
			ValidAfter:  "0",
			ValidBefore: "99999999999",
			Nonce:       "0x" + strings.Repeat("cd", 32),
			Signature:   "0x" + strings.Repeat("11", 65),
		},
	})

	w := do(r, "/api/weather", header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, settler.calls)
	assert.NotEmpty(t, w.Header().Get(ResponseHeader))
}

func TestGateRejectsFailedSettlement(t *testing.T) {
	settler := &stubSettler{
		result: &types.SettleResponse{
			Success:   false,
			Error:     types.ErrSettlementFailed,
			NetworkID: "sei-testnet",
		},
	}
	r := newGatedRouter(t, &stubVerifier{
		verdict: &types.VerifyResponse{IsValid: true},
	}, settler)

	header := paymentHeader(t, types.ExactPayload{
		Authorization: &types.AuthorizationProof{
			From:      "0x1111111111111111111111111111111111111111",
			Signature: "0x" + strings.Repeat("11", 65),
		},
	})

	w := do(r, "/api/weather", header)
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body types.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.ErrSettlementFailed, body.Error)
}
