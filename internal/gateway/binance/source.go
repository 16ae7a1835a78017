// Package binance 基于 go-binance SDK 实现 USDT-M 合约的 exchange.Gateway
// 与 exchange.Trader。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/market"
)

const maxHistoryLimit = 1500

type Source struct {
	cfg    Config
	client *futures.Client
	ledger LimitOrderLedger

	precMu sync.Mutex
	prec   map[string]symbolPrecision
}

// SetLimitOrderLedger 注入限价单台账，挂限价单时同步记录。
func (s *Source) SetLimitOrderLedger(l LimitOrderLedger) { s.ledger = l }

type symbolPrecision struct {
	quantity int
	price    int
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	if final.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(final.APIKey, final.APISecret)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{
		cfg:    final,
		client: client,
		prec:   make(map[string]symbolPrecision),
	}, nil
}

func (s *Source) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:       kl.OpenTime,
			CloseTime:      kl.CloseTime,
			Open:           parseFloat(kl.Open),
			High:           parseFloat(kl.High),
			Low:            parseFloat(kl.Low),
			Close:          parseFloat(kl.Close),
			Volume:         parseFloat(kl.Volume),
			TakerBuyVolume: parseFloat(kl.TakerBuyBaseAssetVolume),
		})
	}
	return dropUnclosedKline(out), nil
}

func (s *Source) ListPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := s.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		size := parseFloat(r.PositionAmt)
		if size == 0 {
			continue
		}
		lev, _ := strconv.Atoi(r.Leverage)
		out = append(out, exchange.Position{
			Symbol:        r.Symbol,
			Size:          size,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			Leverage:      lev,
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			UpdatedAt:     now,
		})
	}
	return out, nil
}

func (s *Source) AccountBalance(ctx context.Context) (exchange.Balance, error) {
	balances, err := s.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, err
	}
	for _, b := range balances {
		if b == nil || b.Asset != "USDT" {
			continue
		}
		return exchange.Balance{
			Asset:     b.Asset,
			Total:     parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
			UpdatedAt: time.Now(),
		}, nil
	}
	return exchange.Balance{}, fmt.Errorf("no USDT balance in response")
}

func (s *Source) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	res, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 || res[0] == nil {
		return 0, fmt.Errorf("empty premium index for %s", symbol)
	}
	price := parseFloat(res[0].MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("invalid mark price for %s", symbol)
	}
	return price, nil
}

func (s *Source) ListOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	svc := s.client.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, exchange.Order{
			Symbol:       o.Symbol,
			OrderID:      o.OrderID,
			Side:         string(o.Side),
			PositionSide: string(o.PositionSide),
			Type:         string(o.Type),
			Price:        parseFloat(o.Price),
			Quantity:     parseFloat(o.OrigQuantity),
			Status:       string(o.Status),
			CreatedAt:    o.Time,
		})
	}
	return out, nil
}

func (s *Source) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := s.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return err
}

func (s *Source) FillHistory(ctx context.Context, symbol string, limit int) ([]exchange.Fill, error) {
	if limit <= 0 {
		limit = 20
	}
	trades, err := s.client.NewListAccountTradeService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Fill, 0, len(trades))
	for _, t := range trades {
		if t == nil {
			continue
		}
		out = append(out, exchange.Fill{
			Symbol:       t.Symbol,
			OrderID:      t.OrderID,
			Price:        parseFloat(t.Price),
			Quantity:     parseFloat(t.Quantity),
			Commission:   parseFloat(t.Commission),
			Buyer:        t.Buyer,
			PositionSide: string(t.PositionSide),
			Time:         t.Time,
		})
	}
	return out, nil
}

func (s *Source) IncomeHistory(ctx context.Context, symbol, incomeType string, limit int) ([]exchange.Income, error) {
	if limit <= 0 {
		limit = 10
	}
	svc := s.client.NewGetIncomeHistoryService().Symbol(symbol).Limit(int64(limit))
	if incomeType != "" {
		svc = svc.IncomeType(incomeType)
	}
	incomes, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Income, 0, len(incomes))
	for _, inc := range incomes {
		if inc == nil {
			continue
		}
		out = append(out, exchange.Income{
			Symbol:     inc.Symbol,
			IncomeType: inc.IncomeType,
			Income:     parseFloat(inc.Income),
			Time:       inc.Time,
		})
	}
	return out, nil
}

func (s *Source) precisionFor(ctx context.Context, symbol string) (symbolPrecision, error) {
	s.precMu.Lock()
	if p, ok := s.prec[symbol]; ok {
		s.precMu.Unlock()
		return p, nil
	}
	s.precMu.Unlock()

	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return symbolPrecision{}, err
	}
	s.precMu.Lock()
	defer s.precMu.Unlock()
	for _, sym := range info.Symbols {
		s.prec[sym.Symbol] = symbolPrecision{
			quantity: sym.QuantityPrecision,
			price:    sym.PricePrecision,
		}
	}
	p, ok := s.prec[symbol]
	if !ok {
		return symbolPrecision{}, fmt.Errorf("symbol %s not in exchange info", symbol)
	}
	return p, nil
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

// dropUnclosedKline 去掉最后一根尚未收盘的K线，保证序列只含已收盘数据。
func dropUnclosedKline(candles []market.Candle) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.CloseTime > time.Now().UnixMilli() {
		return candles[:len(candles)-1]
	}
	return candles
}
