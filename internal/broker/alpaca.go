package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dlanglois/ironclad-trader/internal/apperr"
	"github.com/dlanglois/ironclad-trader/internal/models"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AlpacaClient implements Broker against Alpaca's trading and market
// data REST APIs. Paper vs live is inferred from the configured base
// URL's hostname: anything under "paper-api." is treated
// as paper trading for logging purposes only — the adapter itself is
// otherwise indifferent, since Alpaca's paper and live APIs share one
// request/response shape.
type AlpacaClient struct {
	httpc     *retryablehttp.Client
	baseURL   string
	dataURL   string
	apiKeyID  string
	apiSecret string
	log       *logrus.Entry
}

// NewAlpacaClient builds an adapter against baseURL (trading API) and
// dataURL (market data API). Transient 429/5xx responses are retried
// by the retryablehttp transport before an apperr.Transient error
// ever surfaces.
func NewAlpacaClient(baseURL, dataURL, apiKeyID, apiSecret string, log *logrus.Entry) *AlpacaClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 250 * time.Millisecond
	rc.RetryWaitMax = 4 * time.Second
	rc.Logger = nil // logging goes through logrus, not retryablehttp's own logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AlpacaClient{
		httpc:     rc,
		baseURL:   strings.TrimRight(baseURL, "/"),
		dataURL:   strings.TrimRight(dataURL, "/"),
		apiKeyID:  apiKeyID,
		apiSecret: apiSecret,
		log:       log.WithField("component", "broker.alpaca"),
	}
}

// IsPaper reports whether baseURL points at Alpaca's paper endpoint.
func (c *AlpacaClient) IsPaper() bool {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return true
	}
	return strings.HasPrefix(u.Hostname(), "paper-api.")
}

func (c *AlpacaClient) do(ctx context.Context, method, base, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return newInvalid("encoding request body", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, base+path, rdr)
	if err != nil {
		return newInvalid("building request", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return newTransient(fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newAuth(fmt.Sprintf("alpaca rejected credentials: %s", string(respBody)), nil)
	case resp.StatusCode == http.StatusNotFound:
		return newNotFound(fmt.Sprintf("%s %s", method, path), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return newTransient("alpaca rate limited", nil)
	case resp.StatusCode >= 500:
		return newTransient(fmt.Sprintf("alpaca server error %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return newInvalid(fmt.Sprintf("alpaca rejected request: %s", string(respBody)), nil)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return newTransient("decoding alpaca response", err)
	}
	return nil
}

// --- account -----------------------------------------------------------

type alpacaAccount struct {
	ID             string `json:"id"`
	Equity         string `json:"equity"`
	Cash           string `json:"cash"`
	BuyingPower    string `json:"buying_power"`
	PortfolioValue string `json:"portfolio_value"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// GetAccount implements Broker.
func (c *AlpacaClient) GetAccount(ctx context.Context) (models.Account, error) {
	var a alpacaAccount
	if err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/account", nil, &a); err != nil {
		return models.Account{}, err
	}
	return models.Account{
		ID:             a.ID,
		Equity:         parseF(a.Equity),
		Cash:           parseF(a.Cash),
		BuyingPower:    parseF(a.BuyingPower),
		PortfolioValue: parseF(a.PortfolioValue),
		Currency:       a.Currency,
		Status:         a.Status,
	}, nil
}

// --- orders --------------------------------------------------------------

type alpacaOrderReq struct {
	Symbol        string  `json:"symbol"`
	Qty           string  `json:"qty"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
	ClientOrderID string  `json:"client_order_id"`
	LimitPrice    *string `json:"limit_price,omitempty"`
	StopPrice     *string `json:"stop_price,omitempty"`
	OrderClass    string  `json:"order_class,omitempty"`
	TakeProfit    *alpacaLegPrice `json:"take_profit,omitempty"`
	StopLoss      *alpacaLegPrice `json:"stop_loss,omitempty"`
}

type alpacaLegPrice struct {
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

type alpacaOrder struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type"`
	Qty            string  `json:"qty"`
	TimeInForce    string  `json:"time_in_force"`
	Status         string  `json:"status"`
	FilledQty      string  `json:"filled_qty"`
	FilledAvgPrice *string `json:"filled_avg_price"`
	LimitPrice     *string `json:"limit_price"`
	StopPrice      *string `json:"stop_price"`
	CreatedAt      time.Time  `json:"created_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

// round2 rounds a price to 2 decimal places using decimal arithmetic,
// as Alpaca requires for bracket leg prices.
func round2(v float64) string {
	return decimal.NewFromFloat(v).Round(2).String()
}

// round4 rounds a quantity to 4 decimal places.
func round4(v float64) float64 {
	d, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return d
}

func sideStr(s models.Side) string { return string(s) }
func tifStr(t models.TimeInForce) string { return string(t) }

var orderTypeWire = map[models.OrderType]string{
	models.OrderMarket:       "market",
	models.OrderLimit:        "limit",
	models.OrderStop:         "stop",
	models.OrderStopLimit:    "stop_limit",
	models.OrderTrailingStop: "trailing_stop",
}

// SubmitOrder implements Broker. When TakeProfitPrice or StopLossPrice
// is set, the order is submitted as an Alpaca "bracket" order class —
// a market entry plus OCO take-profit/stop-loss children the venue
// arms atomically on parent fill. Every request carries a fresh
// client_order_id so a submission retried after a network timeout
// can't be mistaken by the venue for a second, distinct order.
func (c *AlpacaClient) SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	wireType, ok := orderTypeWire[req.Type]
	if !ok {
		return models.Order{}, newInvalid(fmt.Sprintf("unsupported order type %q", req.Type), nil)
	}

	body := alpacaOrderReq{
		Symbol:        req.Symbol,
		Qty:           decimal.NewFromFloat(round4(req.Qty)).String(),
		Side:          sideStr(req.Side),
		Type:          wireType,
		TimeInForce:   tifStr(req.TimeInForce),
		ClientOrderID: uuid.New().String(),
	}
	if req.LimitPrice != nil {
		p := round2(*req.LimitPrice)
		body.LimitPrice = &p
	}
	if req.StopPrice != nil {
		p := round2(*req.StopPrice)
		body.StopPrice = &p
	}
	if req.TakeProfitPrice != nil || req.StopLossPrice != nil {
		body.OrderClass = "bracket"
		if req.TakeProfitPrice != nil {
			body.TakeProfit = &alpacaLegPrice{LimitPrice: round2(*req.TakeProfitPrice)}
		}
		if req.StopLossPrice != nil {
			body.StopLoss = &alpacaLegPrice{StopPrice: round2(*req.StopLossPrice)}
		}
	}

	var out alpacaOrder
	if err := c.do(ctx, http.MethodPost, c.baseURL, "/v2/orders", body, &out); err != nil {
		return models.Order{}, err
	}
	return toModelOrder(out), nil
}

func toModelOrder(o alpacaOrder) models.Order {
	var filledAvg *float64
	if o.FilledAvgPrice != nil {
		v := parseF(*o.FilledAvgPrice)
		filledAvg = &v
	}
	var limit *float64
	if o.LimitPrice != nil {
		v := parseF(*o.LimitPrice)
		limit = &v
	}
	var stop *float64
	if o.StopPrice != nil {
		v := parseF(*o.StopPrice)
		stop = &v
	}
	return models.Order{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           models.Side(o.Side),
		Type:           models.OrderType(o.Type),
		Qty:            parseF(o.Qty),
		TimeInForce:    models.TimeInForce(o.TimeInForce),
		Status:         toModelStatus(o.Status),
		FilledQty:      parseF(o.FilledQty),
		FilledAvgPrice: filledAvg,
		LimitPrice:     limit,
		StopPrice:      stop,
		CreatedAt:      o.CreatedAt,
		FilledAt:       o.FilledAt,
	}
}

var statusWire = map[string]models.OrderStatus{
	"new":              models.OrderSubmitted,
	"accepted":         models.OrderSubmitted,
	"pending_new":      models.OrderPending,
	"filled":           models.OrderFilled,
	"partially_filled": models.OrderPartiallyFilled,
	"canceled":         models.OrderCanceled,
	"rejected":         models.OrderRejected,
	"expired":          models.OrderCanceled,
}

func toModelStatus(wire string) models.OrderStatus {
	if s, ok := statusWire[wire]; ok {
		return s
	}
	return models.OrderSubmitted
}

// GetOrder implements Broker.
func (c *AlpacaClient) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var out alpacaOrder
	if err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/orders/"+url.PathEscape(id), nil, &out); err != nil {
		return models.Order{}, err
	}
	return toModelOrder(out), nil
}

// GetOrders implements Broker.
func (c *AlpacaClient) GetOrders(ctx context.Context, status OrderQuery, limit int) ([]models.Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []alpacaOrder
	path := "/v2/orders"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL, path, nil, &out); err != nil {
		return nil, err
	}
	orders := make([]models.Order, len(out))
	for i, o := range out {
		orders[i] = toModelOrder(o)
	}
	return orders, nil
}

// CancelOrder implements Broker.
func (c *AlpacaClient) CancelOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.baseURL, "/v2/orders/"+url.PathEscape(id), nil, nil)
}

// CancelAllOrders implements Broker.
func (c *AlpacaClient) CancelAllOrders(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, c.baseURL, "/v2/orders", nil, nil)
}

// --- positions -------------------------------------------------------------

type alpacaPosition struct {
	Symbol           string `json:"symbol"`
	Qty              string `json:"qty"`
	Side             string `json:"side"`
	AvgEntryPrice    string `json:"avg_entry_price"`
	MarketValue      string `json:"market_value"`
	CurrentPrice     string `json:"current_price"`
	UnrealizedPL     string `json:"unrealized_pl"`
	UnrealizedPLPC   string `json:"unrealized_plpc"`
}

func toModelPosition(p alpacaPosition) models.Position {
	side := models.PositionLong
	if p.Side == "short" {
		side = models.PositionShort
	}
	return models.Position{
		Symbol:           p.Symbol,
		Qty:              parseF(p.Qty),
		Side:             side,
		AvgEntry:         parseF(p.AvgEntryPrice),
		MarketValue:      parseF(p.MarketValue),
		CurrentPrice:     parseF(p.CurrentPrice),
		UnrealizedPnL:    parseF(p.UnrealizedPL),
		UnrealizedPnLPct: parseF(p.UnrealizedPLPC),
	}
}

// GetPositions implements Broker.
func (c *AlpacaClient) GetPositions(ctx context.Context) ([]models.Position, error) {
	var out []alpacaPosition
	if err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/positions", nil, &out); err != nil {
		return nil, err
	}
	positions := make([]models.Position, len(out))
	for i, p := range out {
		positions[i] = toModelPosition(p)
	}
	return positions, nil
}

// GetPosition implements Broker. Returns (nil, nil) if symbol has no
// open position — never an error.
func (c *AlpacaClient) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	var out alpacaPosition
	err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/positions/"+url.PathEscape(symbol), nil, &out)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, nil
		}
		return nil, err
	}
	p := toModelPosition(out)
	return &p, nil
}

// ClosePosition implements Broker.
func (c *AlpacaClient) ClosePosition(ctx context.Context, symbol string) (models.Order, error) {
	var out alpacaOrder
	if err := c.do(ctx, http.MethodDelete, c.baseURL, "/v2/positions/"+url.PathEscape(symbol), nil, &out); err != nil {
		return models.Order{}, err
	}
	return toModelOrder(out), nil
}

// closeAllPositionsResponseItem matches Alpaca's DELETE
// /v2/positions response: a flat array of {symbol, status, body}
// items, where body nests the order Alpaca placed to flatten that
// position.
type closeAllPositionsResponseItem struct {
	Symbol string      `json:"symbol"`
	Status int         `json:"status"`
	Order  alpacaOrder `json:"body"`
}

// CloseAllPositions implements Broker.
func (c *AlpacaClient) CloseAllPositions(ctx context.Context) ([]models.Order, error) {
	var out []closeAllPositionsResponseItem
	if err := c.do(ctx, http.MethodDelete, c.baseURL, "/v2/positions?cancel_orders=true", nil, &out); err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0, len(out))
	for _, item := range out {
		orders = append(orders, toModelOrder(item.Order))
	}
	return orders, nil
}

// --- market data -------------------------------------------------------------

type alpacaBar struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

type alpacaBarsResponse struct {
	Bars          []alpacaBar `json:"bars"`
	NextPageToken *string     `json:"next_page_token"`
}

var timeframeWire = map[models.Timeframe]string{
	models.TF1Min:  "1Min",
	models.TF5Min:  "5Min",
	models.TF15Min: "15Min",
	models.TF30Min: "30Min",
	models.TF1Hour: "1Hour",
	models.TF4Hour: "4Hour",
	models.TF1Day:  "1Day",
	models.TF1Week: "1Week",
	models.TF1Mon:  "1Month",
}

// GetBars implements Broker, routing crypto vs equity bars to their
// respective Alpaca data endpoints by the "/" symbol rule.
func (c *AlpacaClient) GetBars(ctx context.Context, symbol string, tf models.Timeframe, q BarsQuery) (models.BarSeries, error) {
	wireTF, ok := timeframeWire[tf]
	if !ok {
		return models.BarSeries{}, newInvalid(fmt.Sprintf("unsupported timeframe %q", tf), nil)
	}

	vals := url.Values{}
	vals.Set("timeframe", wireTF)
	vals.Set("symbols", symbol)
	if q.Start != nil {
		vals.Set("start", q.Start.UTC().Format(time.RFC3339))
	}
	if q.End != nil {
		vals.Set("end", q.End.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}

	path := "/v2/stocks/bars?" + vals.Encode()
	if models.IsCrypto(symbol) {
		path = "/v1beta3/crypto/us/bars?" + vals.Encode()
	}

	var all []models.Bar
	for {
		var out struct {
			Bars          map[string][]alpacaBar `json:"bars"`
			NextPageToken *string                `json:"next_page_token"`
		}
		if err := c.do(ctx, http.MethodGet, c.dataURL, path, nil, &out); err != nil {
			return models.BarSeries{}, err
		}
		for _, b := range out.Bars[symbol] {
			all = append(all, models.Bar{
				Timestamp: b.T.UTC(),
				Open:      b.O,
				High:      b.H,
				Low:       b.L,
				Close:     b.C,
				Volume:    b.V,
			})
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			break
		}
		pageVals := vals
		pageVals.Set("page_token", *out.NextPageToken)
		path = strings.SplitN(path, "?", 2)[0] + "?" + pageVals.Encode()
	}

	return models.NewBarSeries(symbol, tf, all), nil
}

type alpacaQuote struct {
	BidPrice float64 `json:"bp"`
	AskPrice float64 `json:"ap"`
}

type alpacaTrade struct {
	Price float64 `json:"p"`
}

// GetLatestPrice implements Broker. Equity uses the last trade price;
// crypto uses the bid/ask midpoint when both sides are positive, else
// whichever side is positive, else ErrUnavailableQuote.
func (c *AlpacaClient) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	if models.IsCrypto(symbol) {
		var out struct {
			Quotes map[string]alpacaQuote `json:"quotes"`
		}
		path := "/v1beta3/crypto/us/latest/quotes?symbols=" + url.QueryEscape(symbol)
		if err := c.do(ctx, http.MethodGet, c.dataURL, path, nil, &out); err != nil {
			return 0, err
		}
		q := out.Quotes[symbol]
		switch {
		case q.BidPrice > 0 && q.AskPrice > 0:
			return (q.BidPrice + q.AskPrice) / 2, nil
		case q.BidPrice > 0:
			return q.BidPrice, nil
		case q.AskPrice > 0:
			return q.AskPrice, nil
		default:
			return 0, ErrUnavailableQuote
		}
	}

	var out struct {
		Trade alpacaTrade `json:"trade"`
	}
	path := "/v2/stocks/" + url.PathEscape(symbol) + "/trades/latest"
	if err := c.do(ctx, http.MethodGet, c.dataURL, path, nil, &out); err != nil {
		return 0, err
	}
	if out.Trade.Price <= 0 {
		return 0, ErrUnavailableQuote
	}
	return out.Trade.Price, nil
}

// IsMarketOpen implements Broker.
func (c *AlpacaClient) IsMarketOpen(ctx context.Context) (bool, error) {
	var out struct {
		IsOpen bool `json:"is_open"`
	}
	if err := c.do(ctx, http.MethodGet, c.baseURL, "/v2/clock", nil, &out); err != nil {
		return false, err
	}
	return out.IsOpen, nil
}
