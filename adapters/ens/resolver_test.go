package ens

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameHash(t *testing.T) {
	assert.Equal(t, [32]byte{}, NameHash(""))
	assert.Equal(t,
		"0x93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae",
		hexutil.Encode(func() []byte { h := NameHash("eth"); return h[:] }()))
	assert.Equal(t,
		"0xde9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f",
		hexutil.Encode(func() []byte { h := NameHash("foo.eth"); return h[:] }()))
}

// fakeChain answers registry and resolver calls from in-memory records
type fakeChain struct {
	t         *testing.T
	r         *Resolver
	resolvers map[[32]byte]common.Address
	names     map[[32]byte]string
	addrs     map[[32]byte]common.Address
	err       error
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	var node [32]byte
	copy(node[:], call.Data[4:36])
	selector := call.Data[:4]

	switch {
	case *call.To == RegistryAddress && bytes.Equal(selector, f.r.registry.Methods["resolver"].ID):
		return f.r.registry.Methods["resolver"].Outputs.Pack(f.resolvers[node])
	case bytes.Equal(selector, f.r.resolver.Methods["name"].ID):
		return f.r.resolver.Methods["name"].Outputs.Pack(f.names[node])
	case bytes.Equal(selector, f.r.resolver.Methods["addr"].ID):
		return f.r.resolver.Methods["addr"].Outputs.Pack(f.addrs[node])
	}
	f.t.Fatalf("unexpected call to %s", call.To.Hex())
	return nil, nil
}

func newFake(t *testing.T) (*fakeChain, *Resolver) {
	f := &fakeChain{
		t:         t,
		resolvers: map[[32]byte]common.Address{},
		names:     map[[32]byte]string{},
		addrs:     map[[32]byte]common.Address{},
	}
	r, err := NewResolver(f)
	require.NoError(t, err)
	f.r = r
	return f, r
}

var (
	user         = common.HexToAddress("0x00000000000000000000000000000000000000aA")
	resolverAddr = common.HexToAddress("0x0000000000000000000000000000000000000Def")
	reverseNode  = NameHash("00000000000000000000000000000000000000aa.addr.reverse")
)

func TestReverse_VerifiedName(t *testing.T) {
	f, r := newFake(t)
	f.resolvers[reverseNode] = resolverAddr
	f.names[reverseNode] = "alice.eth"
	f.resolvers[NameHash("alice.eth")] = resolverAddr
	f.addrs[NameHash("alice.eth")] = user

	name, err := r.Reverse(context.Background(), user.Hex())
	require.NoError(t, err)
	assert.Equal(t, "alice.eth", name)
}

func TestReverse_ForwardMismatch(t *testing.T) {
	f, r := newFake(t)
	f.resolvers[reverseNode] = resolverAddr
	f.names[reverseNode] = "mallory.eth"
	f.resolvers[NameHash("mallory.eth")] = resolverAddr
	f.addrs[NameHash("mallory.eth")] = common.HexToAddress("0x1")

	name, err := r.Reverse(context.Background(), user.Hex())
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestReverse_NoRecord(t *testing.T) {
	_, r := newFake(t)

	name, err := r.Reverse(context.Background(), user.Hex())
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestReverse_Errors(t *testing.T) {
	f, r := newFake(t)

	_, err := r.Reverse(context.Background(), "nope")
	assert.Error(t, err)

	f.err = errors.New("rpc down")
	_, err = r.Reverse(context.Background(), user.Hex())
	assert.ErrorContains(t, err, "rpc down")
}
