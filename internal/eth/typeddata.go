// Package eth builds EIP-712 login challenges and recovers their signers.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PrimaryType is the EIP-712 struct name of a login challenge
const PrimaryType = "Eauth"

// DomainVersion is the version advertised in the EIP-712 domain
const DomainVersion = "1"

var (
	// ErrInvalidAddress is returned for strings that are not 20-byte hex addresses
	ErrInvalidAddress = errors.New("invalid ethereum address")

	// ErrInvalidSignature is returned when a signature cannot be decoded or recovered
	ErrInvalidSignature = errors.New("invalid signature")
)

// Domain configures the EIP-712 domain separator of issued challenges
type Domain struct {
	Name    string   // Banner shown by the wallet
	ChainID *big.Int // Chain the signature is scoped to, omitted when nil
}

// NewChallenge builds the typed data a wallet signs to prove control of address
func NewChallenge(domain Domain, prefix, address, nonce string) (apitypes.TypedData, error) {
	if !common.IsHexAddress(address) {
		return apitypes.TypedData{}, fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}

	domainFields := []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
	}
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			PrimaryType: {
				{Name: "message", Type: "string"},
				{Name: "address", Type: "address"},
				{Name: "nonce", Type: "string"},
			},
		},
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:    domain.Name,
			Version: DomainVersion,
		},
		Message: apitypes.TypedDataMessage{
			"message": prefix,
			"address": common.HexToAddress(address).Hex(),
			"nonce":   nonce,
		},
	}

	if domain.ChainID != nil {
		td.Types["EIP712Domain"] = append(domainFields, apitypes.Type{Name: "chainId", Type: "uint256"})
		td.Domain.ChainId = (*math.HexOrDecimal256)(new(big.Int).Set(domain.ChainID))
	}

	return td, nil
}

// Hash returns the EIP-712 digest of td
func Hash(td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// RecoverAddress returns the address whose key produced sigHex over td.
// Both the 0/1 and the 27/28 recovery id conventions are accepted.
func RecoverAddress(td apitypes.TypedData, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", ErrInvalidSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, ErrInvalidSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("unexpected recovery id: %w", ErrInvalidSignature)
	}

	hash, err := Hash(td)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", ErrInvalidSignature)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// SignTypedData signs td with key and returns the 0x-prefixed signature a wallet would produce
func SignTypedData(td apitypes.TypedData, key *ecdsa.PrivateKey) (string, error) {
	hash, err := Hash(td)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
