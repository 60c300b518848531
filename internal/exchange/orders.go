package exchange

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/delivery"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/betbot/binance-vault/internal/domain"
)

func isLimit(orderType string) bool {
	return strings.EqualFold(orderType, "LIMIT")
}

// cleanSymbol strips the separator characters callers sometimes carry over
// from other venues ("BTC/USDT", "BTC-USDT") into the bare form the API
// expects.
func cleanSymbol(s string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "", ":", "").Replace(s))
}

// papiOrderParams flattens an order request into the venue's parameter names
// for the portfolio-margin and options surfaces.
func papiOrderParams(req domain.OrderRequest, clientOrderID string) url.Values {
	params := url.Values{}
	params.Set("symbol", cleanSymbol(req.Symbol))
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("type", strings.ToUpper(req.Type))
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", clientOrderID)
	if isLimit(req.Type) {
		params.Set("price", req.Price.String())
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	for k, v := range req.Params {
		params.Set(k, v)
	}
	return params
}

// papiDerivativeParams adds the positionSide the portfolio-margin surface
// requires: dual-side position mode is mandatory there, buys open LONG and
// sells open SHORT unless the caller overrides it (closing does).
func papiDerivativeParams(req domain.OrderRequest, clientOrderID string) url.Values {
	params := papiOrderParams(req, clientOrderID)
	if params.Get("positionSide") == "" {
		if strings.EqualFold(req.Side, "BUY") {
			params.Set("positionSide", "LONG")
		} else {
			params.Set("positionSide", "SHORT")
		}
	}
	// reduceOnly is implied by positionSide in dual-side mode
	params.Del("reduceOnly")
	return params
}

// PlaceOrder places an order on the given segment, tagging it with the
// partner code for that segment. Unified accounts trade derivatives through
// the portfolio-margin surface; their spot orders go to the spot surface
// unless bypass is disabled, in which case they become margin orders.
func (h *Handle) PlaceOrder(ctx context.Context, seg domain.Segment, req domain.OrderRequest) (domain.Order, error) {
	req.Symbol = cleanSymbol(req.Symbol)
	clientID := h.clientOrderID(seg)

	if h.Unified() {
		switch seg {
		case domain.SegmentSpot:
			if h.spotBypass {
				return h.placeSpotOrder(ctx, req, clientID)
			}
			o, err := h.pm.PlaceMarginOrder(ctx, papiOrderParams(req, clientID))
			if err != nil {
				return domain.Order{}, h.venueError(err, "pm margin order")
			}
			return umOrderToDomain(o), nil
		case domain.SegmentMargin:
			o, err := h.pm.PlaceMarginOrder(ctx, papiOrderParams(req, clientID))
			if err != nil {
				return domain.Order{}, h.venueError(err, "pm margin order")
			}
			return umOrderToDomain(o), nil
		case domain.SegmentLinear, domain.SegmentSwap:
			o, err := h.pm.PlaceUMOrder(ctx, papiDerivativeParams(req, clientID))
			if err != nil {
				return domain.Order{}, h.venueError(err, "pm um order")
			}
			return umOrderToDomain(o), nil
		case domain.SegmentInverse:
			o, err := h.pm.PlaceCMOrder(ctx, papiDerivativeParams(req, clientID))
			if err != nil {
				return domain.Order{}, h.venueError(err, "pm cm order")
			}
			return umOrderToDomain(o), nil
		}
	}

	switch seg {
	case domain.SegmentSpot:
		return h.placeSpotOrder(ctx, req, clientID)

	case domain.SegmentMargin:
		svc := h.spot.NewCreateMarginOrderService().
			Symbol(req.Symbol).
			Side(binance.SideType(strings.ToUpper(req.Side))).
			Type(binance.OrderType(strings.ToUpper(req.Type))).
			Quantity(req.Quantity.String()).
			NewClientOrderID(clientID)
		if isLimit(req.Type) {
			svc.Price(req.Price.String()).TimeInForce(timeInForceSpot(req.TimeInForce))
		}
		if err := h.gateOrder(ctx, seg); err != nil {
			return domain.Order{}, err
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return domain.Order{}, h.venueError(err, "margin order")
		}
		return spotCreateToDomain(res), nil

	case domain.SegmentLinear, domain.SegmentSwap:
		svc := h.futures.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(futures.SideType(strings.ToUpper(req.Side))).
			Type(futures.OrderType(strings.ToUpper(req.Type))).
			Quantity(req.Quantity.String()).
			NewClientOrderID(clientID)
		if isLimit(req.Type) {
			tif := req.TimeInForce
			if tif == "" {
				tif = "GTC"
			}
			svc.Price(req.Price.String()).TimeInForce(futures.TimeInForceType(tif))
		}
		if req.ReduceOnly {
			svc.ReduceOnly(true)
		}
		if err := h.gateOrder(ctx, seg); err != nil {
			return domain.Order{}, err
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return domain.Order{}, h.venueError(err, "futures order")
		}
		return domain.Order{
			Symbol:        res.Symbol,
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Side:          string(res.Side),
			Type:          string(res.Type),
			Status:        string(res.Status),
			Price:         dec(res.Price),
			OrigQty:       dec(res.OrigQuantity),
			ExecutedQty:   dec(res.ExecutedQuantity),
			Time:          time.UnixMilli(res.UpdateTime),
		}, nil

	case domain.SegmentInverse:
		svc := h.delivery.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(delivery.SideType(strings.ToUpper(req.Side))).
			Type(delivery.OrderType(strings.ToUpper(req.Type))).
			Quantity(req.Quantity.String()).
			NewClientOrderID(clientID)
		if isLimit(req.Type) {
			tif := req.TimeInForce
			if tif == "" {
				tif = "GTC"
			}
			svc.Price(req.Price.String()).TimeInForce(delivery.TimeInForceType(tif))
		}
		if req.ReduceOnly {
			svc.ReduceOnly(true)
		}
		if err := h.gateOrder(ctx, seg); err != nil {
			return domain.Order{}, err
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return domain.Order{}, h.venueError(err, "delivery order")
		}
		return domain.Order{
			Symbol:        res.Symbol,
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Side:          string(res.Side),
			Type:          string(res.Type),
			Status:        string(res.Status),
			Price:         dec(res.Price),
			OrigQty:       dec(res.OrigQuantity),
			ExecutedQty:   dec(res.ExecutedQuantity),
			Time:          time.UnixMilli(res.UpdateTime),
		}, nil

	case domain.SegmentOption:
		o, err := h.pm.PlaceOptionOrder(ctx, papiOrderParams(req, clientID))
		if err != nil {
			return domain.Order{}, h.venueError(err, "option order")
		}
		return optionOrderToDomain(o), nil
	}
	return domain.Order{}, &UnsupportedOperationError{Segment: string(seg), Operation: "place order"}
}

func (h *Handle) placeSpotOrder(ctx context.Context, req domain.OrderRequest, clientID string) (domain.Order, error) {
	svc := h.spot.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(strings.ToUpper(req.Side))).
		Type(binance.OrderType(strings.ToUpper(req.Type))).
		Quantity(req.Quantity.String()).
		NewClientOrderID(clientID)
	if isLimit(req.Type) {
		svc.Price(req.Price.String()).TimeInForce(timeInForceSpot(req.TimeInForce))
	}
	if err := h.gateOrder(ctx, domain.SegmentSpot); err != nil {
		return domain.Order{}, err
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return domain.Order{}, h.venueError(err, "spot order")
	}
	return spotCreateToDomain(res), nil
}

func timeInForceSpot(tif string) binance.TimeInForceType {
	if tif == "" {
		return binance.TimeInForceTypeGTC
	}
	return binance.TimeInForceType(strings.ToUpper(tif))
}

func spotCreateToDomain(res *binance.CreateOrderResponse) domain.Order {
	return domain.Order{
		Symbol:        res.Symbol,
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Side:          string(res.Side),
		Type:          string(res.Type),
		Status:        string(res.Status),
		Price:         dec(res.Price),
		OrigQty:       dec(res.OrigQuantity),
		ExecutedQty:   dec(res.ExecutedQuantity),
		Time:          time.UnixMilli(res.TransactTime),
	}
}

// CancelOrder cancels one order by venue order ID.
func (h *Handle) CancelOrder(ctx context.Context, seg domain.Segment, symbol string, orderID int64) (domain.Order, error) {
	if h.Unified() {
		switch seg {
		case domain.SegmentMargin:
			o, err := h.pm.CancelMarginOrder(ctx, symbol, orderID)
			if err != nil {
				return domain.Order{}, h.venueError(err, "pm cancel margin")
			}
			return umOrderToDomain(o), nil
		case domain.SegmentLinear, domain.SegmentSwap:
			o, err := h.pm.CancelUMOrder(ctx, symbol, orderID)
			if err != nil {
				return domain.Order{}, h.venueError(err, "pm cancel um")
			}
			return umOrderToDomain(o), nil
		case domain.SegmentInverse:
			o, err := h.pm.CancelCMOrder(ctx, symbol, orderID)
			if err != nil {
				return domain.Order{}, h.venueError(err, "pm cancel cm")
			}
			return umOrderToDomain(o), nil
		}
		// spot falls through to the spot surface
	}

	if err := h.gate(ctx, seg); err != nil {
		return domain.Order{}, err
	}
	switch seg {
	case domain.SegmentSpot:
		res, err := h.spot.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			return domain.Order{}, h.venueError(err, "cancel spot order")
		}
		return domain.Order{
			Symbol:        res.Symbol,
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Side:          string(res.Side),
			Type:          string(res.Type),
			Status:        string(res.Status),
			Price:         dec(res.Price),
			OrigQty:       dec(res.OrigQuantity),
			ExecutedQty:   dec(res.ExecutedQuantity),
			Time:          time.UnixMilli(res.TransactTime),
		}, nil

	case domain.SegmentMargin:
		res, err := h.spot.NewCancelMarginOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			return domain.Order{}, h.venueError(err, "cancel margin order")
		}
		return domain.Order{
			Symbol:        res.Symbol,
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Side:          string(res.Side),
			Type:          string(res.Type),
			Status:        string(res.Status),
			Price:         dec(res.Price),
			OrigQty:       dec(res.OrigQuantity),
			ExecutedQty:   dec(res.ExecutedQuantity),
			Time:          time.UnixMilli(res.TransactTime),
		}, nil

	case domain.SegmentLinear, domain.SegmentSwap:
		res, err := h.futures.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			return domain.Order{}, h.venueError(err, "cancel futures order")
		}
		return domain.Order{
			Symbol:        res.Symbol,
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Side:          string(res.Side),
			Type:          string(res.Type),
			Status:        string(res.Status),
			Price:         dec(res.Price),
			OrigQty:       dec(res.OrigQuantity),
			ExecutedQty:   dec(res.ExecutedQuantity),
		}, nil

	case domain.SegmentInverse:
		res, err := h.delivery.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		if err != nil {
			return domain.Order{}, h.venueError(err, "cancel delivery order")
		}
		return domain.Order{
			Symbol:        res.Symbol,
			OrderID:       res.OrderID,
			ClientOrderID: res.ClientOrderID,
			Side:          string(res.Side),
			Type:          string(res.Type),
			Status:        string(res.Status),
			Price:         dec(res.Price),
			OrigQty:       dec(res.OrigQuantity),
			ExecutedQty:   dec(res.ExecutedQuantity),
		}, nil

	case domain.SegmentOption:
		o, err := h.pm.CancelOptionOrder(ctx, symbol, orderID)
		if err != nil {
			return domain.Order{}, h.venueError(err, "cancel option order")
		}
		return optionOrderToDomain(o), nil
	}
	return domain.Order{}, &UnsupportedOperationError{Segment: string(seg), Operation: "cancel order"}
}

// OpenOrders lists resting orders on a segment. Symbol may be empty.
func (h *Handle) OpenOrders(ctx context.Context, seg domain.Segment, symbol string) ([]domain.Order, error) {
	if h.Unified() {
		switch seg {
		case domain.SegmentMargin:
			rows, err := h.pm.OpenMarginOrders(ctx, symbol)
			if err != nil {
				return nil, h.venueError(err, "pm open margin orders")
			}
			return umOrdersToDomain(rows), nil
		case domain.SegmentLinear, domain.SegmentSwap:
			rows, err := h.pm.OpenUMOrders(ctx, symbol)
			if err != nil {
				return nil, h.venueError(err, "pm open um orders")
			}
			return umOrdersToDomain(rows), nil
		case domain.SegmentInverse:
			rows, err := h.pm.OpenCMOrders(ctx, symbol)
			if err != nil {
				return nil, h.venueError(err, "pm open cm orders")
			}
			return umOrdersToDomain(rows), nil
		}
	}

	if err := h.gate(ctx, seg); err != nil {
		return nil, err
	}
	switch seg {
	case domain.SegmentSpot:
		svc := h.spot.NewListOpenOrdersService()
		if symbol != "" {
			svc.Symbol(symbol)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "open spot orders")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, spotOrderToDomain(o))
		}
		return out, nil

	case domain.SegmentMargin:
		svc := h.spot.NewListMarginOpenOrdersService()
		if symbol != "" {
			svc.Symbol(symbol)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "open margin orders")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, spotOrderToDomain(o))
		}
		return out, nil

	case domain.SegmentLinear, domain.SegmentSwap:
		svc := h.futures.NewListOpenOrdersService()
		if symbol != "" {
			svc.Symbol(symbol)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "open futures orders")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, domain.Order{
				Symbol:        o.Symbol,
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				Side:          string(o.Side),
				Type:          string(o.Type),
				Status:        string(o.Status),
				Price:         dec(o.Price),
				OrigQty:       dec(o.OrigQuantity),
				ExecutedQty:   dec(o.ExecutedQuantity),
				Time:          time.UnixMilli(o.Time),
			})
		}
		return out, nil

	case domain.SegmentInverse:
		svc := h.delivery.NewListOpenOrdersService()
		if symbol != "" {
			svc.Symbol(symbol)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "open delivery orders")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, domain.Order{
				Symbol:        o.Symbol,
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				Side:          string(o.Side),
				Type:          string(o.Type),
				Status:        string(o.Status),
				Price:         dec(o.Price),
				OrigQty:       dec(o.OrigQuantity),
				ExecutedQty:   dec(o.ExecutedQuantity),
				Time:          time.UnixMilli(o.Time),
			})
		}
		return out, nil

	case domain.SegmentOption:
		rows, err := h.pm.OpenOptionOrders(ctx, symbol)
		if err != nil {
			return nil, h.venueError(err, "open option orders")
		}
		out := make([]domain.Order, 0, len(rows))
		for i := range rows {
			out = append(out, optionOrderToDomain(&rows[i]))
		}
		return out, nil
	}
	return nil, &UnsupportedOperationError{Segment: string(seg), Operation: "open orders"}
}

// OrderHistory lists past orders of a symbol, newest last. The venue
// requires a symbol for history queries on every segment.
func (h *Handle) OrderHistory(ctx context.Context, seg domain.Segment, symbol string, limit int) ([]domain.Order, error) {
	symbol = cleanSymbol(symbol)

	if h.Unified() {
		switch seg {
		case domain.SegmentMargin:
			rows, err := h.pm.MarginOrderHistory(ctx, symbol, limit)
			if err != nil {
				return nil, h.venueError(err, "pm margin order history")
			}
			return umOrdersToDomain(rows), nil
		case domain.SegmentLinear, domain.SegmentSwap:
			rows, err := h.pm.UMOrderHistory(ctx, symbol, limit)
			if err != nil {
				return nil, h.venueError(err, "pm um order history")
			}
			return umOrdersToDomain(rows), nil
		case domain.SegmentInverse:
			rows, err := h.pm.CMOrderHistory(ctx, symbol, limit)
			if err != nil {
				return nil, h.venueError(err, "pm cm order history")
			}
			return umOrdersToDomain(rows), nil
		}
	}

	if err := h.gate(ctx, seg); err != nil {
		return nil, err
	}
	switch seg {
	case domain.SegmentSpot:
		svc := h.spot.NewListOrdersService().Symbol(symbol)
		if limit > 0 {
			svc.Limit(limit)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "spot order history")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, spotOrderToDomain(o))
		}
		return out, nil

	case domain.SegmentMargin:
		rows, err := h.spot.NewListMarginOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "margin order history")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, spotOrderToDomain(o))
		}
		return out, nil

	case domain.SegmentLinear, domain.SegmentSwap:
		svc := h.futures.NewListOrdersService().Symbol(symbol)
		if limit > 0 {
			svc.Limit(limit)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "futures order history")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, domain.Order{
				Symbol:        o.Symbol,
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				Side:          string(o.Side),
				Type:          string(o.Type),
				Status:        string(o.Status),
				Price:         dec(o.Price),
				OrigQty:       dec(o.OrigQuantity),
				ExecutedQty:   dec(o.ExecutedQuantity),
				Time:          time.UnixMilli(o.Time),
			})
		}
		return out, nil

	case domain.SegmentInverse:
		svc := h.delivery.NewListOrdersService().Symbol(symbol)
		if limit > 0 {
			svc.Limit(limit)
		}
		rows, err := svc.Do(ctx)
		if err != nil {
			return nil, h.venueError(err, "delivery order history")
		}
		out := make([]domain.Order, 0, len(rows))
		for _, o := range rows {
			out = append(out, domain.Order{
				Symbol:        o.Symbol,
				OrderID:       o.OrderID,
				ClientOrderID: o.ClientOrderID,
				Side:          string(o.Side),
				Type:          string(o.Type),
				Status:        string(o.Status),
				Price:         dec(o.Price),
				OrigQty:       dec(o.OrigQuantity),
				ExecutedQty:   dec(o.ExecutedQuantity),
				Time:          time.UnixMilli(o.Time),
			})
		}
		return out, nil

	case domain.SegmentOption:
		rows, err := h.pm.OptionOrderHistory(ctx, symbol, limit)
		if err != nil {
			return nil, h.venueError(err, "option order history")
		}
		out := make([]domain.Order, 0, len(rows))
		for i := range rows {
			out = append(out, optionOrderToDomain(&rows[i]))
		}
		return out, nil
	}
	return nil, &UnsupportedOperationError{Segment: string(seg), Operation: "order history"}
}

func spotOrderToDomain(o *binance.Order) domain.Order {
	return domain.Order{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          string(o.Side),
		Type:          string(o.Type),
		Status:        string(o.Status),
		Price:         dec(o.Price),
		OrigQty:       dec(o.OrigQuantity),
		ExecutedQty:   dec(o.ExecutedQuantity),
		Time:          time.UnixMilli(o.Time),
	}
}
