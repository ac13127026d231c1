package verification

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seipaylabs/s402/clients"
	"github.com/seipaylabs/s402/replay"
	"github.com/seipaylabs/s402/types"
)

const testRecipient = "0x38A3cba9B40b84a95A94d2B9F6ad6b5457C1317C"

var testTxHash = "0x" + strings.Repeat("ab", 32)

// fakeChain implements clients.ChainClient with canned receipts, counting
// chain reads so tests can assert the cache short-circuits them.
type fakeChain struct {
	mu       sync.Mutex
	receipts map[common.Hash]*clients.Receipt
	err      error
	delay    time.Duration

	receiptCalls atomic.Int32
}

func newFakeChain() *fakeChain {
	return &fakeChain{receipts: make(map[common.Hash]*clients.Receipt)}
}

func (f *fakeChain) addReceipt(hash string, to string, success bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := common.HexToHash(hash)
	f.receipts[h] = &clients.Receipt{
		TxHash:  h,
		To:      common.HexToAddress(to),
		Success: success,
	}
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1328), nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*clients.Receipt, error) {
	f.receiptCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	rcpt, ok := f.receipts[txHash]
	if !ok {
		return nil, clients.ErrReceiptNotFound
	}
	return rcpt, nil
}

func (f *fakeChain) SubmitTransferAuthorization(ctx context.Context, asset common.Address, auth *types.AuthorizationProof) (common.Hash, error) {
	return common.Hash{}, fmt.Errorf("not supported in verification tests")
}

func (f *fakeChain) WaitForReceipt(ctx context.Context, txHash common.Hash) (*clients.Receipt, error) {
	return f.TransactionReceipt(ctx, txHash)
}

func (f *fakeChain) Close() {}

func testNetwork(t *testing.T) types.NetworkConfig {
	t.Helper()
	nc, err := types.ConfigForNetwork(types.NetworkSeiTestnet)
	require.NoError(t, err)
	return nc
}

func newTestService(t *testing.T, chain clients.ChainClient) *Service {
	t.Helper()
	return NewService(chain, replay.NewStore(), testNetwork(t))
}

func txPayload(hash string) *types.PaymentPayload {
	return &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      string(types.SchemeExact),
		Network:     "sei-testnet",
		Payload: types.ExactPayload{
			TxHash: &types.TxHashProof{
				TxHash: hash,
				Amount: "1000",
				From:   "0x1111111111111111111111111111111111111111",
			},
		},
	}
}

func testRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "sei-testnet",
		MaxAmountRequired: "1000",
		PayTo:             testRecipient,
		Asset:             "0x4fCF1784B31630811181f670Aea7A7bEF803eaED",
	}
}

func TestVerifyNilInputs(t *testing.T) {
	svc := newTestService(t, newFakeChain())

	_, err := svc.Verify(context.Background(), nil, testRequirements())
	assert.Error(t, err)
	_, err = svc.Verify(context.Background(), txPayload(testTxHash), nil)
	assert.Error(t, err)
}

func TestVerifyEnvelopeChecks(t *testing.T) {
	svc := newTestService(t, newFakeChain())

	tests := []struct {
		name   string
		mutate func(*types.PaymentPayload)
		reason string
	}{
		{"wrong version", func(p *types.PaymentPayload) { p.X402Version = 2 }, types.ErrUnsupportedVersion},
		{"wrong network", func(p *types.PaymentPayload) { p.Network = "sei" }, types.ErrInvalidNetwork},
		{"wrong scheme", func(p *types.PaymentPayload) { p.Scheme = "upto" }, types.ErrUnsupportedScheme},
		{"no proof", func(p *types.PaymentPayload) { p.Payload = types.ExactPayload{} }, types.ErrMissingProof},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := txPayload(testTxHash)
			tt.mutate(payload)

			res, err := svc.Verify(context.Background(), payload, testRequirements())
			require.NoError(t, err)
			assert.False(t, res.IsValid)
			assert.Equal(t, tt.reason, res.InvalidReason)
		})
	}
}

func TestVerifyTxHashValid(t *testing.T) {
	chain := newFakeChain()
	chain.addReceipt(testTxHash, "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", true)
	svc := newTestService(t, chain)

	res, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", res.Payer)
	assert.Equal(t, testTxHash, res.TxHash)
	assert.False(t, res.Cached)
	assert.True(t, svc.Store().Has(testTxHash))
}

func TestVerifyTxHashCacheHit(t *testing.T) {
	chain := newFakeChain()
	chain.addReceipt(testTxHash, "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", true)
	svc := newTestService(t, chain)

	_, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)

	res, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), chain.receiptCalls.Load())
}

func TestVerifyTxHashNotFound(t *testing.T) {
	svc := newTestService(t, newFakeChain())

	res, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, types.ErrTxNotFound, res.InvalidReason)
	assert.False(t, svc.Store().Has(testTxHash))
}

func TestVerifyTxHashFailedTx(t *testing.T) {
	chain := newFakeChain()
	chain.addReceipt(testTxHash, "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", false)
	svc := newTestService(t, chain)

	res, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, types.ErrTxFailed, res.InvalidReason)
}

func TestVerifyTxHashWrongContract(t *testing.T) {
	chain := newFakeChain()
	chain.addReceipt(testTxHash, "0x9999999999999999999999999999999999999999", true)
	svc := newTestService(t, chain)

	res, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, types.ErrInvalidRecipient, res.InvalidReason)
	assert.False(t, svc.Store().Has(testTxHash))
}

func TestVerifyChainFaultIsNotInvalid(t *testing.T) {
	chain := newFakeChain()
	chain.err = fmt.Errorf("rpc connection refused")
	svc := newTestService(t, chain)

	res, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, types.ErrVerificationError, res.InvalidReason)

	// The claim must be released so a retry reaches the chain again.
	chain.err = nil
	chain.addReceipt(testTxHash, "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", true)
	res, err = svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}

func TestVerifyConcurrentSingleChainRead(t *testing.T) {
	chain := newFakeChain()
	chain.addReceipt(testTxHash, "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", true)
	chain.delay = 20 * time.Millisecond
	svc := newTestService(t, chain)

	const goroutines = 20
	var wg sync.WaitGroup
	var valid atomic.Int32
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.Verify(context.Background(), txPayload(testTxHash), testRequirements())
			if err == nil && res.IsValid {
				valid.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(goroutines), valid.Load())
	assert.Equal(t, int32(1), chain.receiptCalls.Load())
}

func authPayload(t *testing.T, mutate func(*types.AuthorizationProof)) *types.PaymentPayload {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	now := time.Now().Unix()
	auth := &types.AuthorizationProof{
		From:        signer.Hex(),
		To:          testRecipient,
		Value:       "1000",
		ValidAfter:  fmt.Sprintf("%d", now-600),
		ValidBefore: fmt.Sprintf("%d", now+600),
		Nonce:       "0x" + strings.Repeat("cd", 32),
	}
	if mutate != nil {
		mutate(auth)
	}

	digest, err := clients.AuthorizationDigest(
		auth,
		big.NewInt(1328),
		common.HexToAddress("0x4fCF1784B31630811181f670Aea7A7bEF803eaED"),
		"USDC", "2",
	)
	require.NoError(t, err)

	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	auth.Signature = "0x" + hex.EncodeToString(sig)

	return &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      string(types.SchemeExact),
		Network:     "sei-testnet",
		Payload:     types.ExactPayload{Authorization: auth},
	}
}

func TestVerifyAuthorizationValid(t *testing.T) {
	chain := newFakeChain()
	svc := newTestService(t, chain)

	payload := authPayload(t, nil)
	res, err := svc.Verify(context.Background(), payload, testRequirements())
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Equal(t, payload.Payload.Authorization.From, res.Payer)
	assert.Empty(t, res.TxHash)

	// Authorization verification is purely local.
	assert.Equal(t, int32(0), chain.receiptCalls.Load())
}

func TestVerifyAuthorizationForgedSigner(t *testing.T) {
	svc := newTestService(t, newFakeChain())

	payload := authPayload(t, nil)
	payload.Payload.Authorization.From = "0x1111111111111111111111111111111111111111"

	res, err := svc.Verify(context.Background(), payload, testRequirements())
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, types.ErrInvalidSignature, res.InvalidReason)
}

func TestVerifyAuthorizationWindow(t *testing.T) {
	svc := newTestService(t, newFakeChain())
	now := time.Now().Unix()

	res, err := svc.Verify(context.Background(), authPayload(t, func(a *types.AuthorizationProof) {
		a.ValidAfter = fmt.Sprintf("%d", now+600)
		a.ValidBefore = fmt.Sprintf("%d", now+1200)
	}), testRequirements())
	require.NoError(t, err)
	assert.Equal(t, types.ErrAuthNotYetValid, res.InvalidReason)

	res, err = svc.Verify(context.Background(), authPayload(t, func(a *types.AuthorizationProof) {
		a.ValidAfter = "0"
		a.ValidBefore = fmt.Sprintf("%d", now-600)
	}), testRequirements())
	require.NoError(t, err)
	assert.Equal(t, types.ErrAuthExpired, res.InvalidReason)
}

func TestVerifyAuthorizationInsufficientValue(t *testing.T) {
	svc := newTestService(t, newFakeChain())

	res, err := svc.Verify(context.Background(), authPayload(t, func(a *types.AuthorizationProof) {
		a.Value = "999"
	}), testRequirements())
	require.NoError(t, err)
	assert.Equal(t, types.ErrInsufficientAmount, res.InvalidReason)
}

func TestVerifyAuthorizationOverpaymentAccepted(t *testing.T) {
	svc := newTestService(t, newFakeChain())

	res, err := svc.Verify(context.Background(), authPayload(t, func(a *types.AuthorizationProof) {
		a.Value = "5000"
	}), testRequirements())
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}

func TestVerifyAuthorizationWrongRecipient(t *testing.T) {
	svc := newTestService(t, newFakeChain())

	res, err := svc.Verify(context.Background(), authPayload(t, func(a *types.AuthorizationProof) {
		a.To = "0x9999999999999999999999999999999999999999"
	}), testRequirements())
	require.NoError(t, err)
	assert.Equal(t, types.ErrInvalidRecipient, res.InvalidReason)
}
