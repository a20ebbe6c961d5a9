// Package upbit is the concrete REST client that satisfies
// internal/exchange.OrderAPI against the real Upbit exchange, signing every
// private call with a per-request JWT the way Upbit's API requires.
package upbit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trading-core/internal/exchange"
)

// Config carries the credentials and transport tunables for Client.
type Config struct {
	AccessKey string
	SecretKey string
	BaseURL   string // defaults to https://api.upbit.com
	Timeout   time.Duration
}

// Client implements exchange.OrderAPI against the live Upbit REST API.
type Client struct {
	accessKey string
	secretKey string
	baseURL   string
	http      *http.Client
}

// New builds a Client from cfg, applying defaults for unset fields.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.upbit.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
	}
}

// claims carries the query hash Upbit's private endpoints require in
// addition to the standard registered claims.
type claims struct {
	AccessKey     string `json:"access_key"`
	Nonce         string `json:"nonce"`
	QueryHash     string `json:"query_hash,omitempty"`
	QueryHashAlg  string `json:"query_hash_alg,omitempty"`
	jwt.RegisteredClaims
}

func (c *Client) signedToken(query url.Values) (string, error) {
	cl := claims{
		AccessKey: c.accessKey,
		Nonce:     fmt.Sprintf("%d", time.Now().UnixNano()),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if len(query) > 0 {
		sum := sha512.Sum512([]byte(query.Encode()))
		cl.QueryHash = hex.EncodeToString(sum[:])
		cl.QueryHashAlg = "SHA512"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	return token.SignedString([]byte(c.secretKey))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return &exchange.RestError{Kind: exchange.ErrInvalidArgument, Err: err}
	}

	tok, err := c.signedToken(query)
	if err != nil {
		return &exchange.RestError{Kind: exchange.ErrInvalidArgument, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	res, err := c.http.Do(req)
	if err != nil {
		return &exchange.RestError{Kind: exchange.ErrConnectFailed, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return &exchange.RestError{Kind: exchange.ErrBadStatus, HTTPStatus: res.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &exchange.RestError{Kind: exchange.ErrParseError, Err: err}
	}
	return nil
}

type accountLine struct {
	Currency     string `json:"currency"`
	Balance      string `json:"balance"`
	Locked       string `json:"locked"`
	AvgBuyPrice  string `json:"avg_buy_price"`
	UnitCurrency string `json:"unit_currency"`
}

// GetMyAccount fetches the full balance sheet and maps each non-KRW line
// into an AccountPosition.
func (c *Client) GetMyAccount(ctx context.Context) (exchange.AccountSnapshot, error) {
	var lines []accountLine
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &lines); err != nil {
		return exchange.AccountSnapshot{}, fmt.Errorf("upbit: get accounts: %w", err)
	}

	var snap exchange.AccountSnapshot
	for _, l := range lines {
		if l.Currency == "KRW" {
			snap.KRWFree += parseFloat(l.Balance)
			continue
		}
		snap.Positions = append(snap.Positions, exchange.AccountPosition{
			Currency:     l.Currency,
			UnitCurrency: l.UnitCurrency,
			Balance:      parseFloat(l.Balance),
			AvgBuyPrice:  parseFloat(l.AvgBuyPrice),
		})
	}
	return snap, nil
}

type orderLine struct {
	UUID       string `json:"uuid"`
	Side       string `json:"side"`
	OrdType    string `json:"ord_type"`
	Price      string `json:"price"`
	State      string `json:"state"`
	Market     string `json:"market"`
	Identifier string `json:"identifier"`
	Volume     string `json:"volume"`
	RemainingVolume string `json:"remaining_volume"`
	ExecutedVolume  string `json:"executed_volume"`
}

// GetOpenOrders fetches wait/watch-state orders for market.
func (c *Client) GetOpenOrders(ctx context.Context, market string) ([]exchange.Order, error) {
	q := url.Values{}
	q.Set("market", market)
	q.Add("states[]", "wait")
	q.Add("states[]", "watch")

	var lines []orderLine
	if err := c.do(ctx, http.MethodGet, "/v1/orders", q, &lines); err != nil {
		return nil, fmt.Errorf("upbit: get open orders: %w", err)
	}

	out := make([]exchange.Order, 0, len(lines))
	for _, l := range lines {
		out = append(out, mapOrderLine(l))
	}
	return out, nil
}

func mapOrderLine(l orderLine) exchange.Order {
	o := exchange.Order{
		ID:              l.UUID,
		Identifier:      l.Identifier,
		Market:          l.Market,
		Side:            mapSide(l.Side),
		Type:            mapOrdType(l.OrdType),
		Status:          mapState(l.State),
		ExecutedVolume:  parseFloat(l.ExecutedVolume),
		RemainingVolume: parseFloat(l.RemainingVolume),
	}
	if l.Price != "" {
		p := parseFloat(l.Price)
		o.Price = &p
	}
	if l.Volume != "" {
		v := parseFloat(l.Volume)
		o.Volume = &v
	}
	return o
}

func mapSide(s string) exchange.OrderSide {
	if s == "bid" {
		return exchange.SideBid
	}
	return exchange.SideAsk
}

func mapOrdType(s string) exchange.OrderType {
	if s == "price" || s == "market" {
		return exchange.TypeMarket
	}
	return exchange.TypeLimit
}

func mapState(s string) exchange.OrderStatus {
	switch s {
	case "wait", "watch":
		return exchange.StatusOpen
	case "done":
		return exchange.StatusFilled
	case "cancel":
		return exchange.StatusCanceled
	default:
		return exchange.StatusPending
	}
}

// PostOrder submits req, returning Upbit's assigned order uuid.
func (c *Client) PostOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	q := url.Values{}
	q.Set("market", req.Market)
	q.Set("side", sideParam(req.Side))
	q.Set("ord_type", ordTypeParam(req))
	if req.Identifier != "" {
		q.Set("identifier", req.Identifier)
	}
	switch req.Size.Kind {
	case exchange.SizeVolume:
		q.Set("volume", strconv.FormatFloat(req.Size.Volume, 'f', -1, 64))
	case exchange.SizeAmount:
		q.Set("price", strconv.FormatFloat(req.Size.Amount, 'f', -1, 64))
	}
	if req.Type == exchange.TypeLimit {
		q.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}

	var resp struct {
		UUID string `json:"uuid"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/orders", q, &resp); err != nil {
		return "", fmt.Errorf("upbit: post order: %w", err)
	}
	return resp.UUID, nil
}

func sideParam(s exchange.OrderSide) string {
	if s == exchange.SideBid {
		return "bid"
	}
	return "ask"
}

// ordTypeParam maps a (Type, Side) pair to Upbit's four order-type strings.
func ordTypeParam(req exchange.OrderRequest) string {
	if req.Type == exchange.TypeLimit {
		return "limit"
	}
	if req.Side == exchange.SideBid {
		return "price" // market buy, quoted in KRW amount
	}
	return "market" // market sell, quoted in base volume
}

// CancelOrder cancels an order by its exchange-assigned uuid (or, if empty,
// by its client-assigned identifier).
func (c *Client) CancelOrder(ctx context.Context, id, identifier string) (bool, error) {
	q := url.Values{}
	if id != "" {
		q.Set("uuid", id)
	} else if identifier != "" {
		q.Set("identifier", identifier)
	} else {
		return false, fmt.Errorf("upbit: cancel order requires an id or identifier")
	}

	if err := c.do(ctx, http.MethodDelete, "/v1/order", q, nil); err != nil {
		return false, fmt.Errorf("upbit: cancel order: %w", err)
	}
	return true, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var _ exchange.OrderAPI = (*Client)(nil)
