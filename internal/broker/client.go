// Package broker 券商网关适配器：REST 下单/查询 + WebSocket 事件流。
// 实现 ports.OrderPort 与 ports.SnapshotSource，引擎其余部分不感知传输细节。
package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/ladderbot/internal/domain"
	"github.com/betbot/ladderbot/internal/ports"
)

var log = logrus.WithField("component", "broker")

type Config struct {
	BaseURL   string        `yaml:"base_url"`
	StreamURL string        `yaml:"stream_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Client 券商 REST 客户端
type Client struct {
	http *resty.Client
}

var _ ports.OrderPort = (*Client)(nil)
var _ ports.SnapshotSource = (*Client)(nil)

func NewClient(cfg Config) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// resty 自动从环境变量读取代理配置（HTTP_PROXY / HTTPS_PROXY）
	http := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp.StatusCode() == 429 {
				return 10 * time.Second, nil
			}
			return 0, nil
		}).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 下单/改单不自动重试：网关可能已受理，盲目重试会造成重复订单
			if resp != nil && resp.Request != nil && resp.Request.Method != "GET" {
				return false
			}
			if err != nil {
				return true
			}
			return resp.StatusCode() == 429 || resp.StatusCode() >= 500
		})
	return &Client{http: http}
}

// ---------------------------------------------------------------------------
// wire 类型：网关用十进制字符串传数量与价格，解析用 decimal 避免精度漂移
// ---------------------------------------------------------------------------

type wireOrder struct {
	OrderID    int64  `json:"orderId"`
	ParentID   int64  `json:"parentId,omitempty"`
	Account    string `json:"account"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
	Qty        string `json:"qty"`
	FilledQty  string `json:"filledQty"`
	Remaining  string `json:"remaining"`
	LimitPrice string `json:"limitPrice,omitempty"`
	StopPrice  string `json:"stopPrice,omitempty"`
	Status     string `json:"status"`
	ClientTag  string `json:"clientTag,omitempty"`
}

type wirePosition struct {
	Account       string `json:"account"`
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgCost       string `json:"avgCost"`
	RealizedPnL   string `json:"realizedPnl"`
	UnrealizedPnL string `json:"unrealizedPnl"`
}

type submitRequest struct {
	ParentID   int64  `json:"parentId,omitempty"`
	Account    string `json:"account"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
	Qty        string `json:"qty"`
	LimitPrice string `json:"limitPrice,omitempty"`
	StopPrice  string `json:"stopPrice,omitempty"`
	ClientTag  string `json:"clientTag,omitempty"`
}

type replaceRequest struct {
	StopPrice string `json:"stopPrice"`
	Qty       string `json:"qty"`
}

type ackResponse struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseDec(raw string) float64 {
	if raw == "" {
		return 0
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		log.Warnf("⚠️ 网关返回非法十进制字段: %q", raw)
		return 0
	}
	f, _ := d.Float64()
	return f
}

func formatDec(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func (w *wireOrder) toDomain() *domain.Order {
	return &domain.Order{
		OrderID:    w.OrderID,
		ParentID:   w.ParentID,
		Account:    w.Account,
		Symbol:     w.Symbol,
		Side:       domain.Side(w.Side),
		OrderType:  domain.OrderType(w.OrderType),
		Qty:        parseDec(w.Qty),
		FilledQty:  parseDec(w.FilledQty),
		Remaining:  parseDec(w.Remaining),
		LimitPrice: parseDec(w.LimitPrice),
		StopPrice:  parseDec(w.StopPrice),
		Status:     domain.OrderStatus(w.Status),
		ClientTag:  w.ClientTag,
	}
}

func (w *wirePosition) toDomain() *domain.Position {
	return &domain.Position{
		Account:       w.Account,
		Symbol:        w.Symbol,
		Qty:           parseDec(w.Qty),
		AvgCost:       parseDec(w.AvgCost),
		RealizedPnL:   parseDec(w.RealizedPnL),
		UnrealizedPnL: parseDec(w.UnrealizedPnL),
	}
}

func checkResponse(resp *resty.Response, apiErr *apiError, op string) error {
	if resp.IsSuccess() {
		return nil
	}
	if apiErr != nil && apiErr.Message != "" {
		return errors.Errorf("%s: gateway code=%d message=%s (http %d)", op, apiErr.Code, apiErr.Message, resp.StatusCode())
	}
	return errors.Errorf("%s: http %d: %s", op, resp.StatusCode(), resp.String())
}

// ---------------------------------------------------------------------------
// ports.OrderPort
// ---------------------------------------------------------------------------

func (c *Client) SubmitOrder(ctx context.Context, order *domain.Order) (*ports.OrderAck, error) {
	req := submitRequest{
		ParentID:  order.ParentID,
		Account:   order.Account,
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		OrderType: string(order.OrderType),
		Qty:       formatDec(order.Qty),
		ClientTag: order.ClientTag,
	}
	if order.LimitPrice > 0 {
		req.LimitPrice = formatDec(order.LimitPrice)
	}
	if order.StopPrice > 0 {
		req.StopPrice = formatDec(order.StopPrice)
	}

	var ack ackResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&req).
		SetResult(&ack).
		SetError(&apiErr).
		Post("/v1/orders")
	if err != nil {
		return nil, errors.Wrap(err, "submit order")
	}
	if err := checkResponse(resp, &apiErr, "submit order"); err != nil {
		return nil, err
	}
	return &ports.OrderAck{OrderID: ack.OrderID, Status: domain.OrderStatus(ack.Status)}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetError(&apiErr).
		Delete(fmt.Sprintf("/v1/orders/%d", orderID))
	if err != nil {
		return errors.Wrapf(err, "cancel order %d", orderID)
	}
	return checkResponse(resp, &apiErr, fmt.Sprintf("cancel order %d", orderID))
}

func (c *Client) ReplaceOrder(ctx context.Context, orderID int64, newStopPrice, newQty float64) (*ports.OrderAck, error) {
	var ack ackResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&replaceRequest{StopPrice: formatDec(newStopPrice), Qty: formatDec(newQty)}).
		SetResult(&ack).
		SetError(&apiErr).
		Post(fmt.Sprintf("/v1/orders/%d/replace", orderID))
	if err != nil {
		return nil, errors.Wrapf(err, "replace order %d", orderID)
	}
	if err := checkResponse(resp, &apiErr, fmt.Sprintf("replace order %d", orderID)); err != nil {
		return nil, err
	}
	return &ports.OrderAck{OrderID: ack.OrderID, Status: domain.OrderStatus(ack.Status)}, nil
}

// ---------------------------------------------------------------------------
// ports.SnapshotSource
// ---------------------------------------------------------------------------

func (c *Client) ActiveOrders(ctx context.Context, account string) ([]*domain.Order, error) {
	var wire []wireOrder
	var apiErr apiError
	r := c.http.R().SetContext(ctx).SetResult(&wire).SetError(&apiErr)
	if account != "" {
		r.SetQueryParam("account", account)
	}
	resp, err := r.Get("/v1/orders")
	if err != nil {
		return nil, errors.Wrap(err, "list active orders")
	}
	if err := checkResponse(resp, &apiErr, "list active orders"); err != nil {
		return nil, err
	}
	out := make([]*domain.Order, 0, len(wire))
	for i := range wire {
		out = append(out, wire[i].toDomain())
	}
	return out, nil
}

func (c *Client) Positions(ctx context.Context, account string) ([]*domain.Position, error) {
	var wire []wirePosition
	var apiErr apiError
	r := c.http.R().SetContext(ctx).SetResult(&wire).SetError(&apiErr)
	if account != "" {
		r.SetQueryParam("account", account)
	}
	resp, err := r.Get("/v1/positions")
	if err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	if err := checkResponse(resp, &apiErr, "list positions"); err != nil {
		return nil, err
	}
	out := make([]*domain.Position, 0, len(wire))
	for i := range wire {
		out = append(out, wire[i].toDomain())
	}
	return out, nil
}
