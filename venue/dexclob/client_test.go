package dexclob

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/hedgecore/engine/hedgetypes"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]hedgetypes.OrderStatus{
		"FILLED":    hedgetypes.StatusFilled,
		"matched":   hedgetypes.StatusFilled,
		"CANCELLED": hedgetypes.StatusCancelled,
		"canceled":  hedgetypes.StatusCancelled,
		"REJECTED":  hedgetypes.StatusRejected,
		"live":      hedgetypes.StatusSubmitted,
		"OPEN":      hedgetypes.StatusSubmitted,
		"unknown":   hedgetypes.StatusPending,
	}
	for input, want := range cases {
		assert.Equal(t, want, mapStatus(input), "input %q", input)
	}
}

func TestPadUint256_LeftPadsTo32Bytes(t *testing.T) {
	padded := padUint256("1")
	assert.Len(t, padded, 32)
	assert.Equal(t, byte(1), padded[31])
	for _, b := range padded[:31] {
		assert.Equal(t, byte(0), b)
	}
}

func TestPadUint256_MatchesBigIntValue(t *testing.T) {
	padded := padUint256("65000000000")
	got := new(big.Int).SetBytes(padded)
	assert.Equal(t, "65000000000", got.String())
}

func TestBuildDomainSeparator_DeterministicForSameInputs(t *testing.T) {
	addr := common.HexToAddress("0x1234567890123456789012345678901234567890").Hex()
	a := buildDomainSeparator(addr, ChainID)
	b := buildDomainSeparator(addr, ChainID)
	assert.Equal(t, a, b)
}

func TestBuildDomainSeparator_DiffersAcrossChainIDs(t *testing.T) {
	addr := common.HexToAddress("0x1234567890123456789012345678901234567890").Hex()
	a := buildDomainSeparator(addr, 137)
	b := buildDomainSeparator(addr, 1)
	assert.NotEqual(t, a, b)
}
