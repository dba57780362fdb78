package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"trade_supervisor/internal/apperr"
)

const (
	ExchangeName   = "okx"
	DefaultBaseURL = "https://www.okx.com"

	tsLayout = "2006-01-02T15:04:05.000Z"
)

type Config struct {
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Passphrase string        `mapstructure:"passphrase"`
	BaseURL    string        `mapstructure:"base_url"`
	Simulated  bool          `mapstructure:"simulated"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Client is a thin OKX v5 REST client. One Client serves one trader.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
	now  func() time.Time

	mu     sync.Mutex
	insts  map[string]instrument
	levers map[string]int
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log.Named("okx"),
		now:    time.Now,
		insts:  make(map[string]instrument),
		levers: make(map[string]int),
	}
}

func (c *Client) Name() string { return ExchangeName }

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Ping hits the public server time endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := call[struct {
		TS string `json:"ts"`
	}](ctx, c, http.MethodGet, "/api/v5/public/time", nil, nil, false)
	return err
}

// sign: base64(HMAC-SHA256(ts + method + requestPath + body)).
func (c *Client) sign(ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APISecret))
	mac.Write([]byte(ts + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type response[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any, private bool) (_ []T, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("okx %s %s: %w", method, path, err)
		}
	}()

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = sonic.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	if private {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return nil, apperr.New(apperr.Unauthorized, "okx credentials are not configured")
		}
		ts := c.now().UTC().Format(tsLayout)
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.Transient, "do request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "read body", err)
	}

	var r response[T]
	decErr := sonic.Unmarshal(raw, &r)
	if resp.StatusCode/100 != 2 {
		return nil, httpError(resp.StatusCode, r.Code, r.Msg, raw)
	}
	if decErr != nil {
		return nil, apperr.Wrap(apperr.Transient, "decode", decErr)
	}
	if r.Code != "0" {
		return nil, codeError(r.Code, r.Msg)
	}
	return r.Data, nil
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
