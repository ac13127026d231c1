package clients

import (
	"crypto/ecdsa"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/seipaylabs/s402/types"
)

// receiptPollInterval is how often WaitForReceipt re-checks the chain.
const receiptPollInterval = 2 * time.Second

// transferWithAuthorizationABI is the EIP-3009 entry point of the USDC
// contract, the only contract function settlement calls.
const transferWithAuthorizationABI = `
[
  {
    "name": "transferWithAuthorization",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "from", "type": "address" },
      { "name": "to", "type": "address" },
      { "name": "value", "type": "uint256" },
      { "name": "validAfter", "type": "uint256" },
      { "name": "validBefore", "type": "uint256" },
      { "name": "nonce", "type": "bytes32" },
      { "name": "v", "type": "uint8" },
      { "name": "r", "type": "bytes32" },
      { "name": "s", "type": "bytes32" }
    ],
    "outputs": []
  }
]
`

var _ ChainClient = (*EVMClient)(nil)

// EVMClient implements ChainClient over a Sei EVM JSON-RPC endpoint.
type EVMClient struct {
	network  types.Network
	rpcURL   string
	eth      *ethclient.Client
	tokenABI abi.ABI

	// key signs settlement transactions; nil means this deployment can
	// verify tx-hash proofs but cannot execute authorizations.
	key *ecdsa.PrivateKey
}

// NewEVMClient connects to an EVM RPC endpoint.
func NewEVMClient(network types.Network, rpcURL string) (*EVMClient, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC %s: %w", rpcURL, err)
	}

	tokenABI, err := abi.JSON(strings.NewReader(transferWithAuthorizationABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	return &EVMClient{
		network:  network,
		rpcURL:   rpcURL,
		eth:      eth,
		tokenABI: tokenABI,
	}, nil
}

// SetSettlementKey configures the private key used to submit authorization
// transactions. Without it SubmitTransferAuthorization fails.
func (c *EVMClient) SetSettlementKey(hexKey string) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return fmt.Errorf("invalid settlement key: %w", err)
	}
	c.key = key
	return nil
}

// Network returns the network this client is connected to.
func (c *EVMClient) Network() types.Network {
	return c.network
}

// ChainID implements ChainClient.
func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// TransactionReceipt implements ChainClient. The destination address comes
// from the transaction because EVM receipts do not include it.
func (c *EVMClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	rcpt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("receipt fetch failed: %w", err)
	}

	tx, _, err := c.eth.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("transaction fetch failed: %w", err)
	}

	var to common.Address
	if tx.To() != nil {
		to = *tx.To()
	}

	return &Receipt{
		TxHash:  txHash,
		To:      to,
		Success: rcpt.Status == ethtypes.ReceiptStatusSuccessful,
	}, nil
}

// SubmitTransferAuthorization implements ChainClient. It packs the
// client-signed EIP-3009 authorization into a transferWithAuthorization call
// paid for by the server's settlement key.
func (c *EVMClient) SubmitTransferAuthorization(ctx context.Context, asset common.Address, auth *types.AuthorizationProof) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("no settlement key configured for network %s", c.network)
	}

	v, r, s, err := SplitSignature(auth.Signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bad authorization signature: %w", err)
	}

	value, err := parseUint256(auth.Value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bad authorization value: %w", err)
	}
	validAfter, err := parseUint256(auth.ValidAfter)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bad validAfter: %w", err)
	}
	validBefore, err := parseUint256(auth.ValidBefore)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bad validBefore: %w", err)
	}
	nonce32, err := parseBytes32(auth.Nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bad authorization nonce: %w", err)
	}

	callData, err := c.tokenABI.Pack(
		"transferWithAuthorization",
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce32,
		v, r, s,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack transferWithAuthorization: %w", err)
	}

	sender := crypto.PubkeyToAddress(c.key.PublicKey)

	txNonce, err := c.eth.PendingNonceAt(ctx, sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce fetch failed: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price fetch failed: %w", err)
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: sender,
		To:   &asset,
		Data: callData,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas estimation failed: %w", err)
	}

	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id fetch failed: %w", err)
	}

	tx := ethtypes.NewTransaction(txNonce, asset, big.NewInt(0), gasLimit, gasPrice, callData)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign settlement transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit settlement transaction: %w", err)
	}

	return signed.Hash(), nil
}

// WaitForReceipt implements ChainClient by polling until the transaction is
// mined or the context expires.
func (c *EVMClient) WaitForReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := c.TransactionReceipt(ctx, txHash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close implements ChainClient.
func (c *EVMClient) Close() {
	c.eth.Close()
}

func parseUint256(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("not a decimal uint256: %q", s)
	}
	return n, nil
}
