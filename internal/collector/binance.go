package collector

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL    = "https://api.binance.com"
	defaultAPITimeout = 4 * time.Second
	defaultRetryCount = 2
	userAgent         = "btc-stream-collector/1.0"
)

// Quote is one sample of the market: last trade price plus the notional
// volume resting on each side of the top of the order book.
type Quote struct {
	Price      decimal.Decimal
	BuyVolume  decimal.Decimal
	SellVolume decimal.Decimal
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// BinanceClient reads the public spot endpoints. No API key is needed.
type BinanceClient struct {
	cli *resty.Client
}

func NewBinanceClient(baseURL string) *BinanceClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(defaultAPITimeout)
	client.SetRetryCount(defaultRetryCount)
	client.SetHeaders(map[string]string{
		headers.Accept:    "application/json",
		headers.UserAgent: userAgent,
	})
	return &BinanceClient{cli: client}
}

// Quote fetches the last price and the order book depth for symbol.
func (b *BinanceClient) Quote(ctx context.Context, symbol string, depthLimit int) (Quote, error) {
	price, err := b.price(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}
	buy, sell, err := b.depthVolumes(ctx, symbol, depthLimit)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price, BuyVolume: buy, SellVolume: sell}, nil
}

func (b *BinanceClient) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out tickerResponse
	if err := b.get(ctx, "/api/v3/ticker/price", map[string]string{"symbol": symbol}, &out); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse price %q", out.Price)
	}
	return price, nil
}

func (b *BinanceClient) depthVolumes(ctx context.Context, symbol string, limit int) (decimal.Decimal, decimal.Decimal, error) {
	var out depthResponse
	params := map[string]string{"symbol": symbol, "limit": strconv.Itoa(limit)}
	if err := b.get(ctx, "/api/v3/depth", params, &out); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	buy, err := notional(out.Bids)
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(err, "bids")
	}
	sell, err := notional(out.Asks)
	if err != nil {
		return decimal.Zero, decimal.Zero, errors.Wrap(err, "asks")
	}
	return buy, sell, nil
}

func (b *BinanceClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := b.cli.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	if resp.IsError() {
		return errors.Errorf("GET %s: status %d", path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// notional sums price*quantity over [price, quantity] levels.
func notional(levels [][]string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, level := range levels {
		if len(level) < 2 {
			return decimal.Zero, errors.Errorf("malformed level %v", level)
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "level price %q", level[0])
		}
		qty, err := decimal.NewFromString(level[1])
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "level quantity %q", level[1])
		}
		total = total.Add(price.Mul(qty))
	}
	return total, nil
}
