package clients

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/seipaylabs/s402/types"
)

var transferWithAuthorizationTypeHash = crypto.Keccak256(
	[]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"),
)

// AuthorizationDigest computes the EIP-712 digest a payer signed for a
// transferWithAuthorization call: keccak256("\x19\x01" || domainSeparator ||
// structHash), with the domain bound to the asset contract on the given chain.
func AuthorizationDigest(auth *types.AuthorizationProof, chainID *big.Int, asset common.Address, assetName, assetVersion string) ([]byte, error) {
	value, err := parseUint256(auth.Value)
	if err != nil {
		return nil, fmt.Errorf("bad value: %w", err)
	}
	validAfter, err := parseUint256(auth.ValidAfter)
	if err != nil {
		return nil, fmt.Errorf("bad validAfter: %w", err)
	}
	validBefore, err := parseUint256(auth.ValidBefore)
	if err != nil {
		return nil, fmt.Errorf("bad validBefore: %w", err)
	}
	nonce, err := parseBytes32(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("bad nonce: %w", err)
	}

	domainSeparator := crypto.Keccak256(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		crypto.Keccak256([]byte(assetName)),
		crypto.Keccak256([]byte(assetVersion)),
		leftPadBig(chainID),
		leftPadAddress(asset),
	)

	structHash := crypto.Keccak256(
		transferWithAuthorizationTypeHash,
		leftPadAddress(common.HexToAddress(auth.From)),
		leftPadAddress(common.HexToAddress(auth.To)),
		leftPadBig(value),
		leftPadBig(validAfter),
		leftPadBig(validBefore),
		nonce[:],
	)

	return crypto.Keccak256([]byte("\x19\x01"), domainSeparator, structHash), nil
}

// RecoverAuthorizationSigner recovers the address that signed an EIP-3009
// authorization. Both v conventions (0/1 and 27/28) are accepted since
// wallets differ.
func RecoverAuthorizationSigner(auth *types.AuthorizationProof, chainID *big.Int, asset common.Address, assetName, assetVersion string) (common.Address, error) {
	digest, err := AuthorizationDigest(auth, chainID, asset, assetName, assetVersion)
	if err != nil {
		return common.Address{}, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(auth.Signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("bad signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature recovery failed: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// SplitSignature splits a 65-byte hex signature into its v, r, s components
// with v normalized to the 27/28 convention the token contract expects.
func SplitSignature(sigHex string) (v uint8, r [32]byte, s [32]byte, err error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return 0, r, s, fmt.Errorf("bad signature hex: %w", err)
	}
	if len(sig) != 65 {
		return 0, r, s, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

func parseBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func leftPadBig(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func leftPadAddress(addr common.Address) []byte {
	return append(make([]byte, 12), addr.Bytes()...)
}
