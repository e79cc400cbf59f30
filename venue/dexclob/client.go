// Package dexclob implements venue.Adapter against an EIP-712-signed
// on-chain CLOB, the flaky-venue archetype: its order-status endpoint may
// report CANCELLED on an order that has, in fact, filled. Grounded on
// exec/client.go's signed-order construction and HTTP plumbing.
package dexclob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/hedgetypes"
)

// ChainID is the EVM chain this exchange contract is deployed on.
const ChainID = 137

// usdcDecimals scales base-asset sizes into the collateral token's smallest unit.
var usdcDecimals = decimal.NewFromInt(1_000_000)

// Client is a venue.Adapter talking to a signed-order CLOB over HTTP.
type Client struct {
	baseURL       string
	exchangeAddr  string
	privateKey    *ecdsa.PrivateKey
	address       string
	funderAddress string
	httpClient    *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	ExchangeAddr  string
	PrivateKeyHex string
	FunderAddress string
}

// New constructs a Client, loading the signing key from Config.PrivateKeyHex.
func New(cfg Config) (*Client, error) {
	pkHex := strings.TrimPrefix(cfg.PrivateKeyHex, "0x")
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("dexclob: invalid private key: %w", err)
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		exchangeAddr:  cfg.ExchangeAddr,
		privateKey:    pk,
		address:       crypto.PubkeyToAddress(pk.PublicKey).Hex(),
		funderAddress: cfg.FunderAddress,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// VenueTag implements venue.Adapter.
func (c *Client) VenueTag() hedgetypes.VenueTag { return hedgetypes.VenueFlakyDEX }

// PlaceOrder signs and submits req. Order-level rejection is reported via the
// response, never as an error; only transport failure returns err != nil.
func (c *Client) PlaceOrder(ctx context.Context, req hedgetypes.OrderRequest) (hedgetypes.OrderResponse, error) {
	orderType := "GTC"
	if req.Type == hedgetypes.OrderTypeMarket {
		orderType = "FAK"
	}

	signed, err := c.buildSignedOrder(req)
	if err != nil {
		return hedgetypes.OrderResponse{}, fmt.Errorf("dexclob: sign order: %w", err)
	}

	payload := map[string]any{
		"order":     signed,
		"owner":     c.address,
		"orderType": orderType,
	}

	body, err := c.post(ctx, "/order", payload)
	if err != nil {
		return hedgetypes.OrderResponse{}, err
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"errorMsg"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return hedgetypes.OrderResponse{}, fmt.Errorf("dexclob: parse place response: %w", err)
	}

	if result.Error != "" {
		return hedgetypes.OrderResponse{Status: hedgetypes.StatusRejected, ErrorMessage: result.Error}, nil
	}

	log.Info().Str("order_id", result.OrderID).Str("symbol", req.Symbol).Msg("dexclob: order submitted")
	return hedgetypes.OrderResponse{OrderID: result.OrderID, Status: hedgetypes.StatusSubmitted}, nil
}

// CancelOrder implements venue.Adapter; already-terminal orders cancel silently.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	_, err := c.delete(ctx, "/order", map[string]any{"orderID": orderID})
	return err
}

// CancelAllOrders bulk-cancels resting orders for symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	body, err := c.delete(ctx, "/orders", map[string]any{"market": symbol})
	if err != nil {
		return 0, err
	}
	var result struct {
		Cancelled []string `json:"canceled"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, nil
	}
	return len(result.Cancelled), nil
}

// GetOrderStatus queries the venue's order-status endpoint. Callers must not
// trust a CANCELLED result alone for this venue — it may have actually
// filled; the fill waiter's position-delta fallback exists precisely because
// of this endpoint's unreliability.
func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (hedgetypes.OrderResponse, error) {
	body, err := c.get(ctx, "/order/"+orderID)
	if err != nil {
		return hedgetypes.OrderResponse{}, err
	}

	var result struct {
		Status       string `json:"status"`
		SizeMatched  string `json:"sizeMatched"`
		Price        string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return hedgetypes.OrderResponse{}, fmt.Errorf("dexclob: parse status response: %w", err)
	}

	filled, _ := decimal.NewFromString(result.SizeMatched)
	price, _ := decimal.NewFromString(result.Price)

	return hedgetypes.OrderResponse{
		OrderID:      orderID,
		Status:       mapStatus(result.Status),
		FilledSize:   filled,
		AvgFillPrice: price,
	}, nil
}

// GetPositions returns every open position reported by the venue's
// /positions endpoint.
func (c *Client) GetPositions(ctx context.Context) ([]hedgetypes.PositionSnapshot, error) {
	body, err := c.get(ctx, "/positions")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Market string `json:"market"`
		Side   string `json:"side"`
		Size   string `json:"size"`
		Mark   string `json:"markPrice"`
		Entry  string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("dexclob: parse positions response: %w", err)
	}
	out := make([]hedgetypes.PositionSnapshot, 0, len(raw))
	for _, p := range raw {
		size, _ := decimal.NewFromString(p.Size)
		mark, _ := decimal.NewFromString(p.Mark)
		entry, _ := decimal.NewFromString(p.Entry)
		side := hedgetypes.SideLong
		if strings.EqualFold(p.Side, "SELL") || strings.EqualFold(p.Side, "SHORT") {
			side = hedgetypes.SideShort
		}
		out = append(out, hedgetypes.PositionSnapshot{Symbol: p.Market, Side: side, Size: size, MarkPrice: mark, EntryPrice: entry})
	}
	return out, nil
}

// GetEquity returns total collateral value held by the funder wallet.
func (c *Client) GetEquity(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.get(ctx, "/balance")
	if err != nil {
		return decimal.Zero, err
	}
	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("dexclob: parse balance response: %w", err)
	}
	return decimal.NewFromString(result.Balance)
}

// GetAvailableMargin returns free collateral; this venue has no leverage
// buffer beyond the raw collateral balance, so it mirrors GetEquity.
func (c *Client) GetAvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	return c.GetEquity(ctx)
}

// GetMarkPrice returns the venue's current mid/mark price for symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	body, err := c.get(ctx, "/midpoint?market="+symbol)
	if err != nil {
		return decimal.Zero, err
	}
	var result struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("dexclob: parse midpoint response: %w", err)
	}
	return decimal.NewFromString(result.Mid)
}

func mapStatus(s string) hedgetypes.OrderStatus {
	switch strings.ToUpper(s) {
	case "FILLED", "MATCHED":
		return hedgetypes.StatusFilled
	case "CANCELED", "CANCELLED":
		return hedgetypes.StatusCancelled
	case "REJECTED":
		return hedgetypes.StatusRejected
	case "LIVE", "OPEN":
		return hedgetypes.StatusSubmitted
	default:
		return hedgetypes.StatusPending
	}
}

// buildSignedOrder constructs and EIP-712-signs an order payload.
func (c *Client) buildSignedOrder(req hedgetypes.OrderRequest) (map[string]any, error) {
	maker := c.funderAddress
	if maker == "" {
		maker = c.address
	}

	var makerAmount, takerAmount decimal.Decimal
	side := "BUY"
	if req.Side == hedgetypes.SideShort {
		side = "SELL"
	}
	if side == "BUY" {
		makerAmount = req.Size.Mul(req.Price).Mul(usdcDecimals).Floor()
		takerAmount = req.Size.Mul(usdcDecimals).Floor()
	} else {
		makerAmount = req.Size.Mul(usdcDecimals).Floor()
		takerAmount = req.Size.Mul(req.Price).Mul(usdcDecimals).Floor()
	}

	order := map[string]any{
		"salt":          generateSalt(),
		"maker":         maker,
		"signer":        c.address,
		"taker":         "0x0000000000000000000000000000000000000000",
		"tokenId":       req.Symbol,
		"makerAmount":   makerAmount.String(),
		"takerAmount":   takerAmount.String(),
		"expiration":    "0",
		"nonce":         "0",
		"feeRateBps":    "0",
		"side":          side,
		"signatureType": 0,
	}

	sig, err := c.signOrderEIP712(order)
	if err != nil {
		return nil, err
	}
	order["signature"] = sig
	return order, nil
}

// signOrderEIP712 signs the order struct hash under this venue's domain separator.
func (c *Client) signOrderEIP712(order map[string]any) (string, error) {
	domainSeparator := buildDomainSeparator(c.exchangeAddr, ChainID)
	orderHash := buildOrderStructHash(order)

	var data []byte
	data = append(data, []byte("\x19\x01")...)
	data = append(data, domainSeparator[:]...)
	data = append(data, orderHash[:]...)

	finalHash := crypto.Keccak256(data)
	sig, err := crypto.Sign(finalHash, c.privateKey)
	if err != nil {
		return "", err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

func buildDomainSeparator(contractAddr string, chainID int) [32]byte {
	domainTypeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	nameHash := crypto.Keccak256([]byte("Hedge CLOB Exchange"))
	versionHash := crypto.Keccak256([]byte("1"))
	chainIDBytes := common.LeftPadBytes(big.NewInt(int64(chainID)).Bytes(), 32)
	contractPadded := common.LeftPadBytes(common.HexToAddress(contractAddr).Bytes(), 32)

	var data []byte
	data = append(data, domainTypeHash...)
	data = append(data, nameHash...)
	data = append(data, versionHash...)
	data = append(data, chainIDBytes...)
	data = append(data, contractPadded...)

	hash := crypto.Keccak256(data)
	var result [32]byte
	copy(result[:], hash)
	return result
}

func buildOrderStructHash(order map[string]any) [32]byte {
	orderTypeHash := crypto.Keccak256([]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"))

	fields := []string{"salt", "maker", "signer", "taker", "tokenId", "makerAmount", "takerAmount", "expiration", "nonce", "feeRateBps"}
	var data []byte
	data = append(data, orderTypeHash...)
	for _, f := range fields {
		v := order[f].(string)
		switch f {
		case "maker", "signer", "taker":
			data = append(data, common.LeftPadBytes(common.HexToAddress(v).Bytes(), 32)...)
		default:
			data = append(data, padUint256(v)...)
		}
	}
	sideVal := 0
	if order["side"].(string) == "SELL" {
		sideVal = 1
	}
	data = append(data, common.LeftPadBytes([]byte{byte(sideVal)}, 32)...)
	data = append(data, common.LeftPadBytes([]byte{byte(order["signatureType"].(int))}, 32)...)

	hash := crypto.Keccak256(data)
	var result [32]byte
	copy(result[:], hash)
	return result
}

func padUint256(s string) []byte {
	n := new(big.Int)
	n.SetString(s, 10)
	return common.LeftPadBytes(n.Bytes(), 32)
}

func generateSalt() string {
	b := make([]byte, 32)
	rand.Read(b)
	return new(big.Int).SetBytes(b).String()
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) delete(ctx context.Context, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexclob: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dexclob: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("dexclob: server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
