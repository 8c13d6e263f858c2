// Package bitget implements types.Exchange for Bitget USDT-M perpetual
// futures over the v2 mix REST API.
package bitget

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"envgrid/logger"
	"envgrid/trader/types"
)

// Bitget v2 mix endpoints
const (
	bitgetBaseURL = "https://api.bitget.com"

	contractsPath       = "/api/v2/mix/market/contracts"
	candlesPath         = "/api/v2/mix/market/candles"
	accountsPath        = "/api/v2/mix/account/accounts"
	setMarginModePath   = "/api/v2/mix/account/set-margin-mode"
	setLeveragePath     = "/api/v2/mix/account/set-leverage"
	allPositionPath     = "/api/v2/mix/position/all-position"
	ordersPendingPath   = "/api/v2/mix/order/orders-pending"
	planPendingPath     = "/api/v2/mix/order/orders-plan-pending"
	batchCancelPath     = "/api/v2/mix/order/batch-cancel-orders"
	cancelPlanOrderPath = "/api/v2/mix/order/cancel-plan-order"
	placeOrderPath      = "/api/v2/mix/order/place-order"
	placePlanOrderPath  = "/api/v2/mix/order/place-plan-order"

	successCode        = "00000"
	defaultProductType = "USDT-FUTURES"
	defaultMarginCoin  = "USDT"
)

// Options configures a Bitget client.
type Options struct {
	APIKey      string
	SecretKey   string
	Passphrase  string
	BaseURL     string
	ProxyURL    string
	Timeout     time.Duration
	RateLimit   float64 // Requests per second, 0 = unlimited
	ProductType string
	MarginCoin  string
}

// Client is a Bitget futures session.
type Client struct {
	opts    Options
	http    *resty.Client
	limiter *rate.Limiter

	// Contract cache keyed by exchange symbol
	contracts      map[string]*types.PairInfo
	contractsMutex sync.RWMutex
}

// response is the Bitget REST envelope
type response struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

// New creates a Bitget client. No request is made until LoadMarkets.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = bitgetBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ProductType == "" {
		opts.ProductType = defaultProductType
	}
	if opts.MarginCoin == "" {
		opts.MarginCoin = defaultMarginCoin
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetLogger(logger.NewHTTPLogger("[bitget] ")).
		SetHeader("Content-Type", "application/json").
		SetHeader("locale", "en-US").
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// Only reads are retried, and only when rate limited.
			return resp != nil && resp.Request.Method == http.MethodGet &&
				resp.StatusCode() == http.StatusTooManyRequests
		})
	if opts.ProxyURL != "" {
		httpClient.SetProxy(opts.ProxyURL)
	}

	c := &Client{
		opts:      opts,
		http:      httpClient,
		contracts: make(map[string]*types.PairInfo),
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

func (c *Client) Name() string { return "bitget" }

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// sign computes base64(HMAC-SHA256(timestamp + method + requestPath + body))
func (c *Client) sign(timestamp, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.opts.SecretKey))
	h.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// doRequest executes a signed request and returns the data field.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request body: %w", err)
		}
	}

	requestPath := path
	qs := query.Encode()
	if qs != "" {
		requestPath += "?" + qs
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("ACCESS-KEY", c.opts.APIKey).
		SetHeader("ACCESS-SIGN", c.sign(timestamp, method, requestPath, string(bodyBytes))).
		SetHeader("ACCESS-TIMESTAMP", timestamp).
		SetHeader("ACCESS-PASSPHRASE", c.opts.Passphrase)
	if qs != "" {
		req.SetQueryString(qs)
	}
	if bodyBytes != nil {
		req.SetBody(bodyBytes)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &types.ExchangeError{Exchange: "bitget", Op: path, Err: err}
	}

	var env response
	perr := json.Unmarshal(resp.Body(), &env)
	if perr != nil || env.Code == "" {
		if resp.IsError() {
			return nil, &types.ExchangeError{
				Exchange: "bitget",
				Op:       path,
				Code:     strconv.Itoa(resp.StatusCode()),
				Message:  strings.TrimSpace(string(resp.Body())),
			}
		}
		if perr == nil {
			perr = errors.New("missing response code")
		}
		return nil, fmt.Errorf("failed to parse bitget response: %w, body: %s", perr, string(resp.Body()))
	}
	if env.Code != successCode {
		return nil, &types.ExchangeError{Exchange: "bitget", Op: path, Code: env.Code, Message: env.Msg}
	}
	return env.Data, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	data, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := c.doRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", path, err)
	}
	return nil
}

// productQuery returns the productType query every mix endpoint expects.
func (c *Client) productQuery() url.Values {
	return url.Values{"productType": {c.opts.ProductType}}
}
