package ens

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/layer-3/eauth/ports"
)

// RegistryAddress is the ENS registry deployment shared by mainnet and the public testnets
var RegistryAddress = common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")

const registryABI = `[
	{"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"resolver","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

const resolverABI = `[
	{"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"node","type":"bytes32"}],"name":"addr","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

// Caller is the subset of an Ethereum client the resolver needs
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver performs ENS reverse resolution with forward verification
type Resolver struct {
	caller   Caller
	registry abi.ABI
	resolver abi.ABI
}

var _ ports.NameResolver = (*Resolver)(nil)

// Dial connects to the JSON-RPC endpoint at rpcURL
func Dial(ctx context.Context, rpcURL string) (*Resolver, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}
	return NewResolver(client)
}

// NewResolver creates a resolver issuing calls through caller
func NewResolver(caller Caller) (*Resolver, error) {
	registry, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("parsing registry abi: %w", err)
	}
	resolver, err := abi.JSON(strings.NewReader(resolverABI))
	if err != nil {
		return nil, fmt.Errorf("parsing resolver abi: %w", err)
	}
	return &Resolver{caller: caller, registry: registry, resolver: resolver}, nil
}

// Reverse returns the primary ENS name of address, or an empty string when it has none
// or when the name does not resolve back to the same address.
func (r *Resolver) Reverse(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address %q", address)
	}
	addr := common.HexToAddress(address)

	reverseNode := NameHash(strings.ToLower(addr.Hex()[2:]) + ".addr.reverse")
	resolverAddr, err := r.resolverOf(ctx, reverseNode)
	if err != nil || resolverAddr == (common.Address{}) {
		return "", err
	}

	var name string
	if err := r.call(ctx, resolverAddr, r.resolver, "name", reverseNode, &name); err != nil {
		return "", err
	}
	if name == "" {
		return "", nil
	}

	forwardNode := NameHash(name)
	forwardResolver, err := r.resolverOf(ctx, forwardNode)
	if err != nil || forwardResolver == (common.Address{}) {
		return "", err
	}
	var resolved common.Address
	if err := r.call(ctx, forwardResolver, r.resolver, "addr", forwardNode, &resolved); err != nil {
		return "", err
	}
	if resolved != addr {
		return "", nil
	}
	return name, nil
}

func (r *Resolver) resolverOf(ctx context.Context, node [32]byte) (common.Address, error) {
	var out common.Address
	err := r.call(ctx, RegistryAddress, r.registry, "resolver", node, &out)
	return out, err
}

func (r *Resolver) call(ctx context.Context, to common.Address, contract abi.ABI, method string, node [32]byte, out interface{}) error {
	data, err := contract.Pack(method, node)
	if err != nil {
		return fmt.Errorf("packing %s: %w", method, err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := contract.UnpackIntoInterface(out, method, raw); err != nil {
		return fmt.Errorf("unpacking %s: %w", method, err)
	}
	return nil
}

// NameHash implements the ENS namehash algorithm
func NameHash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		copy(node[:], crypto.Keccak256(node[:], labelHash))
	}
	return node
}
