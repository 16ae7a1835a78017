package binance

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/liliangjiep/nofv/internal/decision"
	"github.com/liliangjiep/nofv/internal/gateway/exchange"
	"github.com/liliangjiep/nofv/internal/logger"
)

// PendingLimitOrder 本地限价单台账的一条记录，用于超时撤单。
type PendingLimitOrder struct {
	Symbol       string  `json:"symbol"`
	OrderID      int64   `json:"order_id"`
	Side         string  `json:"side"`
	PositionSide string  `json:"position_side"`
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	CreatedAt    int64   `json:"create_time"` // 秒
}

// LimitOrderLedger 限价单台账持久化。
type LimitOrderLedger interface {
	RecordLimitOrder(ctx context.Context, ord PendingLimitOrder) error
	RemoveLimitOrder(ctx context.Context, symbol string, orderID int64) error
	ListLimitOrders(ctx context.Context) ([]PendingLimitOrder, error)
}

var slOrderTypes = map[string]bool{"STOP": true, "STOP_MARKET": true}
var tpOrderTypes = map[string]bool{"TAKE_PROFIT": true, "TAKE_PROFIT_MARKET": true}

// Execute 把一条标准化动作翻译成交易所订单。hold/wait 在上游已被过滤，
// 这里遇到也直接忽略。
func (s *Source) Execute(ctx context.Context, act decision.Action) error {
	switch act.Action {
	case decision.ActionOpenLong, decision.ActionOpenLongMarket:
		return s.openMarket(ctx, act, decision.SideLong)
	case decision.ActionOpenShort, decision.ActionOpenShortMarket:
		return s.openMarket(ctx, act, decision.SideShort)
	case decision.ActionOpenLongLimit:
		return s.openLimit(ctx, act, decision.SideLong)
	case decision.ActionOpenShortLimit:
		return s.openLimit(ctx, act, decision.SideShort)
	case decision.ActionCloseLong:
		return s.closePosition(ctx, act.Symbol, decision.SideLong, act.Quantity)
	case decision.ActionCloseShort:
		return s.closePosition(ctx, act.Symbol, decision.SideShort, act.Quantity)
	case decision.ActionReverse:
		return s.reverse(ctx, act)
	case decision.ActionIncreasePosition:
		return s.scalePosition(ctx, act, true)
	case decision.ActionDecreasePosition:
		return s.scalePosition(ctx, act, false)
	case decision.ActionUpdateStopLoss:
		return s.updateProtection(ctx, act, true, act.TakeProfit > 0)
	case decision.ActionUpdateTakeProfit:
		return s.updateProtection(ctx, act, act.StopLoss > 0, true)
	case decision.ActionHold, decision.ActionWait:
		return nil
	default:
		return fmt.Errorf("unsupported action: %s", act.Action)
	}
}

func (s *Source) openMarket(ctx context.Context, act decision.Action, side string) error {
	qty, err := s.resolveQuantity(ctx, act)
	if err != nil {
		return err
	}
	res, err := s.client.NewCreateOrderService().
		Symbol(act.Symbol).
		Side(entrySide(side)).
		PositionSide(positionSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("open %s %s: %w", side, act.Symbol, err)
	}
	logger.Infof("开仓成交 | %s | %s | qty=%s orderId=%d", act.Symbol, side, qty, res.OrderID)
	if act.StopLoss <= 0 && act.TakeProfit <= 0 {
		return nil
	}
	return s.updateProtection(ctx, act, act.StopLoss > 0, act.TakeProfit > 0)
}

func (s *Source) openLimit(ctx context.Context, act decision.Action, side string) error {
	if act.Entry <= 0 {
		return fmt.Errorf("limit open %s: entry price required", act.Symbol)
	}
	prec, err := s.precisionFor(ctx, act.Symbol)
	if err != nil {
		return err
	}
	qty, err := s.resolveQuantityAt(ctx, act, act.Entry)
	if err != nil {
		return err
	}
	price := formatPrice(act.Entry, prec.price)
	res, err := s.client.NewCreateOrderService().
		Symbol(act.Symbol).
		Side(entrySide(side)).
		PositionSide(positionSide(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(price).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("limit open %s %s: %w", side, act.Symbol, err)
	}
	logger.Infof("限价单已挂 | %s | %s | price=%s qty=%s orderId=%d", act.Symbol, side, price, qty, res.OrderID)
	if s.ledger != nil {
		rec := PendingLimitOrder{
			Symbol:       act.Symbol,
			OrderID:      res.OrderID,
			Side:         string(entrySide(side)),
			PositionSide: side,
			Price:        act.Entry,
			Quantity:     parseFloat(qty),
			CreatedAt:    time.Now().Unix(),
		}
		if err := s.ledger.RecordLimitOrder(ctx, rec); err != nil {
			logger.Warnf("记录限价单台账失败 | %s | %v", act.Symbol, err)
		}
	}
	return nil
}

func (s *Source) closePosition(ctx context.Context, symbol, side string, qty float64) error {
	if qty <= 0 {
		pos, err := s.positionFor(ctx, symbol, side)
		if err != nil {
			return err
		}
		if pos == nil {
			return fmt.Errorf("close %s %s: no open position", symbol, side)
		}
		qty = abs(pos.Size)
	}
	prec, err := s.precisionFor(ctx, symbol)
	if err != nil {
		return err
	}
	_, err = s.client.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide(side)).
		PositionSide(positionSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(qty, prec.quantity)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("close %s %s: %w", symbol, side, err)
	}
	logger.Infof("平仓单已提交 | %s | %s | qty=%v", symbol, side, qty)
	// 平仓后撤掉遗留的止损/止盈挂单
	if err := s.cancelProtection(ctx, symbol, side, true, true); err != nil {
		logger.Warnf("撤止损止盈失败 | %s | %v", symbol, err)
	}
	return nil
}

// reverse 先平现有方向再反向开同名义仓位。
func (s *Source) reverse(ctx context.Context, act decision.Action) error {
	positions, err := s.ListPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Symbol != act.Symbol {
			continue
		}
		side := p.Side()
		if err := s.closePosition(ctx, act.Symbol, side, abs(p.Size)); err != nil {
			return err
		}
		if act.PositionSize <= 0 && act.Quantity <= 0 {
			act.Quantity = abs(p.Size)
		}
		opposite := decision.SideShort
		if side == decision.SideShort {
			opposite = decision.SideLong
		}
		return s.openMarket(ctx, act, opposite)
	}
	return fmt.Errorf("reverse %s: no open position", act.Symbol)
}

func (s *Source) scalePosition(ctx context.Context, act decision.Action, increase bool) error {
	positions, err := s.ListPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Symbol != act.Symbol {
			continue
		}
		side := p.Side()
		qty := act.Quantity
		if qty <= 0 {
			if act.PositionSize > 0 && p.MarkPrice > 0 {
				qty = act.PositionSize / p.MarkPrice
			} else {
				// 未给量时缺省按现有仓位一半调整
				qty = abs(p.Size) / 2
			}
		}
		prec, err := s.precisionFor(ctx, act.Symbol)
		if err != nil {
			return err
		}
		orderSide := entrySide(side)
		if !increase {
			orderSide = exitSide(side)
			if qty > abs(p.Size) {
				qty = abs(p.Size)
			}
		}
		_, err = s.client.NewCreateOrderService().
			Symbol(act.Symbol).
			Side(orderSide).
			PositionSide(positionSide(side)).
			Type(futures.OrderTypeMarket).
			Quantity(formatQuantity(qty, prec.quantity)).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("scale %s: %w", act.Symbol, err)
		}
		return nil
	}
	return fmt.Errorf("scale %s: no open position", act.Symbol)
}

// updateProtection 重挂止损/止盈：先撤同类旧单，再按新价位挂 closePosition 单。
func (s *Source) updateProtection(ctx context.Context, act decision.Action, withSL, withTP bool) error {
	pos, side, err := s.anyPositionFor(ctx, act.Symbol)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("update protection %s: no open position", act.Symbol)
	}
	// 新价位不合法时保留现有保护单，先校验再撤单
	if err := decision.ValidateWithPrice(act, pos.MarkPrice, side); err != nil {
		return fmt.Errorf("update protection %s: %w", act.Symbol, err)
	}
	if err := s.cancelProtection(ctx, act.Symbol, side, withSL, withTP); err != nil {
		return err
	}
	prec, err := s.precisionFor(ctx, act.Symbol)
	if err != nil {
		return err
	}
	if withSL && act.StopLoss > 0 {
		_, err := s.client.NewCreateOrderService().
			Symbol(act.Symbol).
			Side(exitSide(side)).
			PositionSide(positionSide(side)).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatPrice(act.StopLoss, prec.price)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("place stop loss %s: %w", act.Symbol, err)
		}
	}
	if withTP && act.TakeProfit > 0 {
		_, err := s.client.NewCreateOrderService().
			Symbol(act.Symbol).
			Side(exitSide(side)).
			PositionSide(positionSide(side)).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatPrice(act.TakeProfit, prec.price)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("place take profit %s: %w", act.Symbol, err)
		}
	}
	return nil
}

func (s *Source) cancelProtection(ctx context.Context, symbol, side string, cancelSL, cancelTP bool) error {
	orders, err := s.ListOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.PositionSide != side {
			continue
		}
		match := (cancelSL && slOrderTypes[o.Type]) || (cancelTP && tpOrderTypes[o.Type])
		if !match {
			continue
		}
		if err := s.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			logger.Warnf("撤单失败 | %s | orderId=%d | %v", symbol, o.OrderID, err)
		}
	}
	return nil
}

func (s *Source) resolveQuantity(ctx context.Context, act decision.Action) (string, error) {
	price, err := s.MarkPrice(ctx, act.Symbol)
	if err != nil {
		return "", err
	}
	return s.resolveQuantityAt(ctx, act, price)
}

func (s *Source) resolveQuantityAt(ctx context.Context, act decision.Action, price float64) (string, error) {
	prec, err := s.precisionFor(ctx, act.Symbol)
	if err != nil {
		return "", err
	}
	qty := act.Quantity
	if qty <= 0 {
		if act.PositionSize <= 0 || price <= 0 {
			return "", fmt.Errorf("open %s: quantity or position_size required", act.Symbol)
		}
		qty = act.PositionSize / price
	}
	formatted := formatQuantity(qty, prec.quantity)
	if parseFloat(formatted) <= 0 {
		return "", fmt.Errorf("open %s: quantity %v rounds to zero", act.Symbol, qty)
	}
	return formatted, nil
}

func (s *Source) positionFor(ctx context.Context, symbol, side string) (*exchange.Position, error) {
	positions, err := s.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		if p.Symbol == symbol && p.Side() == side {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Source) anyPositionFor(ctx context.Context, symbol string) (*exchange.Position, string, error) {
	positions, err := s.ListPositions(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			cp := p
			return &cp, p.Side(), nil
		}
	}
	return nil, "", nil
}

func entrySide(side string) futures.SideType {
	if side == decision.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func exitSide(side string) futures.SideType {
	if side == decision.SideShort {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func positionSide(side string) futures.PositionSideType {
	if side == decision.SideShort {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

// formatQuantity 向下取整到数量精度，避免超出可用余额。
func formatQuantity(qty float64, precision int) string {
	return decimal.NewFromFloat(qty).RoundFloor(int32(precision)).String()
}

func formatPrice(price float64, precision int) string {
	return decimal.NewFromFloat(price).Round(int32(precision)).String()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
