package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type orderData struct {
	OrderID      string          `json:"order_id"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	FilledPrice  decimal.Decimal `json:"filled_price"`
	Fee          decimal.Decimal `json:"fee"`
	FeeCurrency  string          `json:"fee_currency"`
	ExecutedAt   int64           `json:"executed_at"`
}

// RESTConnector talks to one venue account over its signed REST API.
// Retries cover transient transport failures only; a business rejection
// comes back once, classified.
type RESTConnector struct {
	exchange  string
	apiKey    string
	apiSecret string
	http      *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewRESTConnector(exchange, apiKey, apiSecret string, cfg Config) *RESTConnector {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.RetryAttempts - 1).
		SetRetryWaitTime(cfg.RetryBaseDelay).
		SetRetryMaxWaitTime(cfg.RetryMaxDelay).
		AddRetryCondition(isRetryableResp)

	return &RESTConnector{
		exchange:  exchange,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      httpClient,
	}
}

func signRequest(path, body string, expiry int64, secret string) string {
	base := path + fmt.Sprintf("%d", expiry) + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RESTConnector) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	payload := map[string]interface{}{
		"symbol":     req.Symbol,
		"side":       req.Side,
		"order_type": req.OrderType,
		"amount":     req.Amount.String(),
		"cl_ord_id":  req.ClientOrderID,
	}
	if req.OrderType == OrderTypeLimit {
		payload["price"] = req.Price.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	expiry := time.Now().Add(1 * time.Minute).Unix()
	sig := signRequest("/orders", string(body), expiry, c.apiSecret)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("x-api-key", c.apiKey).
		SetHeader("x-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-request-signature", sig).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/orders")
	if err != nil {
		// transport failure after retries, the order may or may not exist
		return nil, &ExchangeRejectionError{
			Exchange:  c.exchange,
			Message:   err.Error(),
			Transient: true,
		}
	}

	if resp.StatusCode() != 200 {
		return nil, &ExchangeRejectionError{
			Exchange:  c.exchange,
			Code:      resp.StatusCode(),
			Message:   string(resp.Body()),
			Transient: isRetryableResp(resp, nil),
		}
	}

	var api apiResponse
	if err := json.Unmarshal(resp.Body(), &api); err != nil {
		return nil, err
	}
	if api.Code != 0 {
		class := classifyCode(api.Code)
		logger.WithFields(map[string]interface{}{
			"exchange": c.exchange,
			"symbol":   req.Symbol,
			"code":     api.Code,
			"message":  class.message,
		}).Warn("order rejected by venue")
		return nil, &ExchangeRejectionError{
			Exchange:  c.exchange,
			Code:      api.Code,
			Message:   class.message,
			Transient: class.transient,
		}
	}

	var order orderData
	if err := json.Unmarshal(api.Data, &order); err != nil {
		return nil, err
	}

	feeCurrency := order.FeeCurrency
	if feeCurrency == "" {
		feeCurrency = "USDT"
	}

	return &OrderAck{
		ExchangeOrderID: order.OrderID,
		FilledAmount:    order.FilledAmount,
		FilledPrice:     order.FilledPrice,
		Fee:             order.Fee,
		FeeCurrency:     feeCurrency,
		ExecutedAt:      time.Unix(order.ExecutedAt, 0).UTC(),
	}, nil
}
