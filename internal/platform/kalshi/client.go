// Package kalshi implements the authenticated REST gateway for the Kalshi
// exchange API. Requests are signed with RSA-PSS-SHA256 over the
// timestamp + method + path message string.
package kalshi

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/windowbot/internal/domain"
)

// Client is the REST client for the Kalshi exchange API. It is safe for
// concurrent use once the private key has been configured.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

var _ domain.ExchangeGateway = (*Client)(nil)

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// apiKeyID is the Kalshi API key identifier.
func NewClient(baseURL, apiKeyID string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// GetBalance returns the account's available balance in dollars.
func (c *Client) GetBalance(ctx context.Context) (domain.Balance, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/portfolio/balance", nil)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("kalshi: get balance: %w", err)
	}

	var resp balanceDTO
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("kalshi: decode balance: %w", err)
	}

	return domain.Balance{
		Available:     float64(resp.Balance) / 100.0,
		PendingPayout: float64(resp.Payout) / 100.0,
	}, nil
}

// GetMarket returns a single market snapshot by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (domain.MarketSnapshot, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(ticker))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market marketDTO `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("kalshi: decode market: %w", err)
	}

	return resp.Market.toSnapshot(time.Now()), nil
}

// ListMarketsBySeries returns all currently open markets belonging to a
// series, e.g. "KXBTCD" for the hourly BTC price markets.
func (c *Client) ListMarketsBySeries(ctx context.Context, series string) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("series_ticker", series)
	params.Set("status", "open")
	params.Set("limit", "200")

	var (
		out    []domain.MarketSnapshot
		cursor string
		now    = time.Now()
	)
	for {
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		path := "/markets?" + params.Encode()

		body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("kalshi: list markets %s: %w", series, err)
		}

		var resp struct {
			Markets []marketDTO `json:"markets"`
			Cursor  string      `json:"cursor"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("kalshi: decode markets: %w", err)
		}

		for _, m := range resp.Markets {
			out = append(out, m.toSnapshot(now))
		}

		if resp.Cursor == "" || len(resp.Markets) == 0 {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// GetOrderBook returns the resting bid depth for the given market ticker,
// limited to the top depth levels per side when depth > 0.
func (c *Client) GetOrderBook(ctx context.Context, ticker string, depth int) (domain.OrderBook, error) {
	path := fmt.Sprintf("/markets/%s/orderbook", url.PathEscape(ticker))
	if depth > 0 {
		path += "?depth=" + strconv.Itoa(depth)
	}

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}

	var resp struct {
		Orderbook orderbookDTO `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}

	return resp.Orderbook.toOrderBook(ticker), nil
}

// PlaceOrder submits a limit order. The request's ClientOrderID is passed
// through as the exchange-side idempotency key, so retrying the same request
// cannot produce a second fill.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	dto := orderCreateDTO{
		Ticker:        req.Ticker,
		ClientOrderID: req.ClientOrderID,
		Action:        string(req.Action),
		Side:          string(req.Side),
		Type:          "limit",
		Count:         req.Count,
	}

	price := probToCents(req.Price)
	if req.Side == domain.SideNo {
		dto.NoPrice = &price
	} else {
		dto.YesPrice = &price
	}

	if req.TimeInForce == domain.TimeInForceIOC {
		past := time.Now().Add(-time.Second).Unix()
		dto.ExpirationTS = &past
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", dto)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp struct {
		Order orderDTO `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}

	result := domain.OrderResult{
		OrderID:   resp.Order.OrderID,
		Status:    domain.OrderStatus(resp.Order.Status),
		FillCount: resp.Order.fillCount(),
	}
	if resp.Order.TakerFillCount > 0 {
		result.AvgPrice = float64(resp.Order.TakerFillCost) / float64(resp.Order.TakerFillCount) / 100.0
	} else if result.FillCount > 0 {
		result.AvgPrice = req.Price
	}

	return result, nil
}

// CancelOrder cancels an existing order by its ID. Cancelling an order that
// has already fully executed returns ErrNotFound.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	_, err := c.doSignedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}

	return nil
}

// ListOrders returns the account's orders for a ticker, optionally filtered
// by status. Used for fill verification when recovering a stale position.
func (c *Client) ListOrders(ctx context.Context, ticker string, status domain.OrderStatus) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	if status != "" {
		params.Set("status", string(status))
	}
	path := "/portfolio/orders?" + params.Encode()

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: list orders %s: %w", ticker, err)
	}

	var resp struct {
		Orders []orderDTO `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode orders: %w", err)
	}

	out := make([]domain.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		out = append(out, o.toOrder())
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs (RSA), sends, and reads an HTTP request
// against the Kalshi API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// The signature covers the path without the query string.
	signPath := path
	if i := bytes.IndexByte([]byte(path), '?'); i >= 0 {
		signPath = path[:i]
	}
	if err := c.signRequest(req, method, signPath); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// signRequest adds RSA authentication headers to the HTTP request.
// Kalshi uses RSA-PSS-SHA256 signatures over the timestamp + method + path
// message string.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	if c.privateKey == nil {
		// If no RSA key is set, we cannot sign. This is a configuration error.
		return fmt.Errorf("kalshi: RSA private key not configured")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	// The message to sign is: timestamp + method + path
	message := ts + method + path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	encodedSig := base64.StdEncoding.EncodeToString(signature)

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", encodedSig)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)

	return nil
}

// checkStatus maps non-2xx HTTP status codes to domain sentinel errors so
// callers can branch with errors.Is.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorDTO
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s (%s)", domain.ErrInvalidOrder, apiErr.Message, apiErr.Code)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s (%s)", domain.ErrAlreadyExists, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("kalshi: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
