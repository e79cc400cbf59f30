package cexrest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hedgecore/engine/hedgetypes"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]hedgetypes.OrderStatus{
		"FILLED":           hedgetypes.StatusFilled,
		"CANCELED":         hedgetypes.StatusCancelled,
		"CANCELLED":        hedgetypes.StatusCancelled,
		"EXPIRED":          hedgetypes.StatusCancelled,
		"REJECTED":         hedgetypes.StatusRejected,
		"NEW":              hedgetypes.StatusSubmitted,
		"PARTIALLY_FILLED": hedgetypes.StatusSubmitted,
		"unknown":          hedgetypes.StatusPending,
	}
	for input, want := range cases {
		assert.Equal(t, want, mapStatus(input), "input %q", input)
	}
}

func TestSignParams_AppendsTimestampAndSignature(t *testing.T) {
	c := &Client{cfg: Config{APISecret: "supersecret"}}
	signed := c.signParams(map[string]string{"symbol": "BTCUSDT"})

	assert.Contains(t, signed, "symbol=BTCUSDT")
	assert.Contains(t, signed, "timestamp=")
	assert.Contains(t, signed, "&signature=")
}

func TestSignParams_DifferentSecretsProduceDifferentSignatures(t *testing.T) {
	params := map[string]string{"symbol": "BTCUSDT"}

	c1 := &Client{cfg: Config{APISecret: "secret-one"}}
	c2 := &Client{cfg: Config{APISecret: "secret-two"}}

	sig1 := c1.signParams(cloneMap(params))
	sig2 := c2.signParams(cloneMap(params))

	sigPart1 := sig1[strings.LastIndex(sig1, "signature=")+len("signature="):]
	sigPart2 := sig2[strings.LastIndex(sig2, "signature=")+len("signature="):]
	assert.NotEqual(t, sigPart1, sigPart2)
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
