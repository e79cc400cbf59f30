// Package cexrest implements venue.Adapter against a REST perpetual-futures
// exchange, the reliable-venue archetype: HMAC-authenticated REST for order
// management plus a background websocket mark-price feed. Grounded on
// internal/binance/client.go's websocket dial/reconnect loop and
// exec/client.go's HMAC request-signing helpers.
package cexrest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hedgecore/engine/hedgetypes"
)

// Config configures a Client.
type Config struct {
	RESTBaseURL string
	WSBaseURL   string
	APIKey      string
	APISecret   string
}

// Client is a venue.Adapter talking REST to a CEX-style perpetual exchange,
// with a best-effort websocket mark-price cache running alongside it.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu         sync.RWMutex
	markPrices map[string]decimal.Decimal

	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}
}

// New constructs a Client and starts its background mark-price stream.
func New(cfg Config) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		markPrices: make(map[string]decimal.Decimal),
		stopCh:     make(chan struct{}),
	}
	c.running = true
	go c.runWebSocket()
	return c
}

// Close stops the background mark-price stream.
func (c *Client) Close() {
	c.running = false
	close(c.stopCh)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

// VenueTag implements venue.Adapter.
func (c *Client) VenueTag() hedgetypes.VenueTag { return hedgetypes.VenueReliableCEX }

// PlaceOrder submits req over signed REST. Order-level rejection is
// reported via the response; only transport failure returns err != nil.
func (c *Client) PlaceOrder(ctx context.Context, req hedgetypes.OrderRequest) (hedgetypes.OrderResponse, error) {
	side := "BUY"
	if req.Side == hedgetypes.SideShort {
		side = "SELL"
	}
	orderType := "LIMIT"
	tif := "GTC"
	if req.Type == hedgetypes.OrderTypeMarket {
		orderType = "MARKET"
		tif = "IOC"
	}

	params := map[string]string{
		"symbol":      req.Symbol,
		"side":        side,
		"type":        orderType,
		"timeInForce": tif,
		"quantity":    req.Size.String(),
		"reduceOnly":  strconv.FormatBool(req.ReduceOnly),
	}
	if orderType == "LIMIT" {
		params["price"] = req.Price.String()
	}

	body, err := c.signedPost(ctx, "/fapi/v1/order", params)
	if err != nil {
		return hedgetypes.OrderResponse{}, err
	}

	var result struct {
		OrderID    int64  `json:"orderId"`
		Status     string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
		Msg        string `json:"msg"`
		Code       int    `json:"code"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return hedgetypes.OrderResponse{}, fmt.Errorf("cexrest: parse place response: %w", err)
	}
	if result.Code < 0 {
		return hedgetypes.OrderResponse{Status: hedgetypes.StatusRejected, ErrorMessage: result.Msg}, nil
	}

	filled, _ := decimal.NewFromString(result.ExecutedQty)
	avg, _ := decimal.NewFromString(result.AvgPrice)

	log.Info().Int64("order_id", result.OrderID).Str("symbol", req.Symbol).Msg("cexrest: order submitted")
	return hedgetypes.OrderResponse{
		OrderID:      strconv.FormatInt(result.OrderID, 10),
		Status:       mapStatus(result.Status),
		FilledSize:   filled,
		AvgFillPrice: avg,
	}, nil
}

// CancelOrder implements venue.Adapter; cancelling a terminal order succeeds silently.
func (c *Client) CancelOrder(ctx context.Context, orderID, symbol string) error {
	_, err := c.signedDelete(ctx, "/fapi/v1/order", map[string]string{"symbol": symbol, "orderId": orderID})
	return err
}

// CancelAllOrders bulk-cancels resting orders for symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	body, err := c.signedDelete(ctx, "/fapi/v1/allOpenOrders", map[string]string{"symbol": symbol})
	if err != nil {
		return 0, err
	}
	var cancelled []json.RawMessage
	if err := json.Unmarshal(body, &cancelled); err != nil {
		return 0, nil
	}
	return len(cancelled), nil
}

// GetOrderStatus polls order state over REST. This venue's status endpoint
// is assumed reliable; the fill waiter never falls back to position-delta here.
func (c *Client) GetOrderStatus(ctx context.Context, orderID, symbol string) (hedgetypes.OrderResponse, error) {
	body, err := c.signedGet(ctx, "/fapi/v1/order", map[string]string{"symbol": symbol, "orderId": orderID})
	if err != nil {
		return hedgetypes.OrderResponse{}, err
	}
	var result struct {
		Status      string `json:"status"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return hedgetypes.OrderResponse{}, fmt.Errorf("cexrest: parse status response: %w", err)
	}
	filled, _ := decimal.NewFromString(result.ExecutedQty)
	avg, _ := decimal.NewFromString(result.AvgPrice)
	return hedgetypes.OrderResponse{OrderID: orderID, Status: mapStatus(result.Status), FilledSize: filled, AvgFillPrice: avg}, nil
}

// GetPositions returns every open position reported by the account endpoint.
func (c *Client) GetPositions(ctx context.Context) ([]hedgetypes.PositionSnapshot, error) {
	body, err := c.signedGet(ctx, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol       string `json:"symbol"`
		PositionAmt  string `json:"positionAmt"`
		EntryPrice   string `json:"entryPrice"`
		MarkPrice    string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("cexrest: parse positions response: %w", err)
	}
	out := make([]hedgetypes.PositionSnapshot, 0, len(raw))
	for _, p := range raw {
		amt, _ := decimal.NewFromString(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := hedgetypes.SideLong
		if amt.IsNegative() {
			side = hedgetypes.SideShort
			amt = amt.Neg()
		}
		mark, _ := decimal.NewFromString(p.MarkPrice)
		entry, _ := decimal.NewFromString(p.EntryPrice)
		out = append(out, hedgetypes.PositionSnapshot{Symbol: p.Symbol, Side: side, Size: amt, MarkPrice: mark, EntryPrice: entry})
	}
	return out, nil
}

// GetEquity returns total wallet balance across the futures account.
func (c *Client) GetEquity(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.signedGet(ctx, "/fapi/v2/balance", nil)
	if err != nil {
		return decimal.Zero, err
	}
	var raw []struct {
		Asset   string `json:"asset"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("cexrest: parse balance response: %w", err)
	}
	for _, a := range raw {
		if a.Asset == "USDT" {
			return decimal.NewFromString(a.Balance)
		}
	}
	return decimal.Zero, nil
}

// GetAvailableMargin returns free margin, already net of existing positions.
func (c *Client) GetAvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.signedGet(ctx, "/fapi/v2/account", nil)
	if err != nil {
		return decimal.Zero, err
	}
	var result struct {
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("cexrest: parse account response: %w", err)
	}
	return decimal.NewFromString(result.AvailableBalance)
}

// GetMarkPrice returns the most recently streamed mark price for symbol,
// falling back to a REST call when the websocket hasn't delivered one yet.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	price, ok := c.markPrices[symbol]
	c.mu.RUnlock()
	if ok {
		return price, nil
	}

	body, err := c.get(ctx, "/fapi/v1/premiumIndex?symbol="+symbol)
	if err != nil {
		return decimal.Zero, err
	}
	var result struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Zero, fmt.Errorf("cexrest: parse premium index response: %w", err)
	}
	return decimal.NewFromString(result.MarkPrice)
}

func mapStatus(s string) hedgetypes.OrderStatus {
	switch strings.ToUpper(s) {
	case "FILLED":
		return hedgetypes.StatusFilled
	case "CANCELED", "CANCELLED", "EXPIRED":
		return hedgetypes.StatusCancelled
	case "REJECTED":
		return hedgetypes.StatusRejected
	case "NEW", "PARTIALLY_FILLED":
		return hedgetypes.StatusSubmitted
	default:
		return hedgetypes.StatusPending
	}
}

// runWebSocket maintains the mark-price stream, reconnecting on any drop.
func (c *Client) runWebSocket() {
	for c.running {
		if err := c.connectWebSocket(); err != nil {
			log.Error().Err(err).Msg("cexrest: websocket connection failed")
			time.Sleep(5 * time.Second)
			continue
		}
		c.readMessages()
		if c.running {
			log.Warn().Msg("cexrest: websocket disconnected, reconnecting")
			time.Sleep(time.Second)
		}
	}
}

func (c *Client) connectWebSocket() error {
	url := c.cfg.WSBaseURL + "/ws/!markPrice@arr@1s"
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("cexrest: websocket dial failed: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	log.Info().Str("url", url).Msg("cexrest: websocket connected")
	return nil
}

func (c *Client) readMessages() {
	for c.running {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.running {
				log.Error().Err(err).Msg("cexrest: websocket read error")
			}
			return
		}
		c.handleMarkPriceMessage(message)
	}
}

func (c *Client) handleMarkPriceMessage(data []byte) {
	var entries []struct {
		Symbol    string `json:"s"`
		MarkPrice string `json:"p"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if price, err := decimal.NewFromString(e.MarkPrice); err == nil {
			c.markPrices[e.Symbol] = price
		}
	}
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.RESTBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) signedGet(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := c.signParams(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.RESTBaseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	c.addAuthHeader(req)
	return c.do(req)
}

func (c *Client) signedPost(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := c.signParams(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RESTBaseURL+path, bytes.NewReader([]byte(query)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.addAuthHeader(req)
	return c.do(req)
}

func (c *Client) signedDelete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := c.signParams(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.RESTBaseURL+path+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	c.addAuthHeader(req)
	return c.do(req)
}

// signParams builds an HMAC-SHA256-signed query string, the same
// construction exec/client.go uses for its REST authentication header.
func (c *Client) signParams(params map[string]string) string {
	if params == nil {
		params = map[string]string{}
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)

	var parts []string
	for k, v := range params {
		parts = append(parts, k+"="+v)
	}
	query := strings.Join(parts, "&")

	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(query))
	signature := hex.EncodeToString(mac.Sum(nil))

	return query + "&signature=" + signature
}

func (c *Client) addAuthHeader(req *http.Request) {
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cexrest: request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cexrest: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("cexrest: server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
