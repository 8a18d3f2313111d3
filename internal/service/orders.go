package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tabletap/internal/domain"
)

type SubmitInput struct {
	RestaurantID int                `json:"restaurant_id" validate:"gt=0"`
	TableID      int                `json:"table_id" validate:"gt=0"`
	Cart         []domain.CartEntry `json:"cart" validate:"required,min=1,dive"`
}

type OrderServiceInterface interface {
	Submit(ctx context.Context, in SubmitInput) (*domain.Order, error)
	Summary(ctx context.Context, orderID int) (*domain.Order, error)
	Finish(ctx context.Context, ident domain.Identity, orderID int) (*domain.Order, error)
	ListOrders(ctx context.Context, ident domain.Identity, filter OrderFilter) ([]domain.Order, error)
	Delete(ctx context.Context, ident domain.Identity, orderID int) error
	Board(ctx context.Context, ident domain.Identity) (*BoardSnapshot, error)
}

type OrderEngine struct {
	store     Store
	publisher OrderPublisher
	board     OrderBoard
	logger    *zap.Logger
	now       func() time.Time
}

type OrderEngineOption func(*OrderEngine)

func WithPublisher(p OrderPublisher) OrderEngineOption {
	return func(e *OrderEngine) { e.publisher = p }
}

func WithBoard(b OrderBoard) OrderEngineOption {
	return func(e *OrderEngine) { e.board = b }
}

func WithClock(now func() time.Time) OrderEngineOption {
	return func(e *OrderEngine) { e.now = now }
}

func NewOrderEngine(store Store, logger *zap.Logger, opts ...OrderEngineOption) *OrderEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &OrderEngine{
		store:  store,
		logger: logger.Named("orders"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ OrderServiceInterface = (*OrderEngine)(nil)

// Submit places an order for a table. The order row and all of its items are
// written in one transaction; nothing is persisted if any item fails.
func (e *OrderEngine) Submit(ctx context.Context, in SubmitInput) (*domain.Order, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	for i, entry := range in.Cart {
		if entry.Price.IsNegative() {
			return nil, NewValidationError(fmt.Sprintf("cart[%d].price", i), "must be at least 0")
		}
	}

	rest, err := e.store.GetRestaurant(ctx, in.RestaurantID)
	if err != nil {
		return nil, err
	}
	table, err := e.store.GetTable(ctx, in.TableID)
	if err != nil {
		return nil, err
	}
	if table.RestaurantID != rest.ID {
		return nil, fmt.Errorf("table %d in restaurant %d: %w", in.TableID, rest.ID, ErrNotFound)
	}

	order := &domain.Order{
		RestaurantID: rest.ID,
		TableID:      table.ID,
		TableNum:     table.TableNum,
		OrderTime:    e.now().UTC(),
	}

	err = e.store.WithinTx(ctx, func(tx Store) error {
		items := make([]domain.OrderItem, 0, len(in.Cart))
		cost := decimal.Zero
		for i, entry := range in.Cart {
			menuItem, err := tx.GetMenuItem(ctx, rest.ID, entry.MenuItemID)
			if errors.Is(err, ErrNotFound) {
				return NewValidationError(fmt.Sprintf("cart[%d].id", i), "unknown menu item")
			}
			if err != nil {
				return err
			}
			if !entry.Price.Equal(menuItem.Price) {
				return NewValidationError(fmt.Sprintf("cart[%d].price", i),
					"does not match current price "+menuItem.Price.StringFixed(2))
			}

			qty := decimal.NewFromInt(int64(entry.Quantity))
			cost = cost.Add(menuItem.Price.Mul(qty))
			items = append(items, domain.OrderItem{
				MenuItemID: menuItem.ID,
				ItemName:   menuItem.Name,
				Quantity:   entry.Quantity,
				Price:      menuItem.Price,
				Subtotal:   menuItem.Price.Mul(qty),
			})
		}

		order.Cost = cost
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.CreateOrderItem(ctx, &items[i]); err != nil {
				return fmt.Errorf("create order item %d: %w", i, err)
			}
		}
		order.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("order placed",
		zap.Int("order_id", order.ID),
		zap.Int("restaurant_id", order.RestaurantID),
		zap.Int("table_num", order.TableNum),
		zap.String("cost", order.Cost.StringFixed(2)))
	e.publish(ctx, domain.EventOrderPlaced, order)
	return order, nil
}

func (e *OrderEngine) Summary(ctx context.Context, orderID int) (*domain.Order, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Subtotal = items[i].Price.Mul(decimal.NewFromInt(int64(items[i].Quantity)))
	}
	order.Items = items
	return order, nil
}

// Finish moves a pending order to finished. Finishing a finished order is a
// no-op and publishes nothing.
func (e *OrderEngine) Finish(ctx context.Context, ident domain.Identity, orderID int) (*domain.Order, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeOrders(ctx, ident, order.RestaurantID, domain.ActionFinishOrder); err != nil {
		return nil, err
	}
	if order.IsFinished {
		return order, nil
	}

	if err := e.store.MarkOrderFinished(ctx, order.ID); err != nil {
		return nil, err
	}
	order.IsFinished = true

	e.logger.Info("order finished",
		zap.Int("order_id", order.ID),
		zap.Int("restaurant_id", order.RestaurantID),
		zap.Int("user_id", ident.UserID))
	e.publish(ctx, domain.EventOrderFinished, order)
	return order, nil
}

func (e *OrderEngine) ListOrders(ctx context.Context, ident domain.Identity, filter OrderFilter) ([]domain.Order, error) {
	rid, err := e.callerRestaurant(ctx, ident, domain.ActionViewOrders)
	if err != nil {
		return nil, err
	}
	switch filter.Status {
	case "", domain.StatusPending, domain.StatusFinished:
	default:
		return nil, NewValidationError("status", "must be one of: pending finished")
	}
	filter.RestaurantID = rid
	return e.store.ListOrders(ctx, filter)
}

func (e *OrderEngine) Delete(ctx context.Context, ident domain.Identity, orderID int) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err := e.authorizeOrders(ctx, ident, order.RestaurantID, domain.ActionDeleteOrder); err != nil {
		return err
	}
	n, err := e.store.DeleteOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("order", orderID)
	}
	e.logger.Info("order deleted", zap.Int("order_id", orderID), zap.Int("user_id", ident.UserID))
	return nil
}

type BoardSnapshot struct {
	Pending     []domain.Order `json:"pending"`
	PlacedToday int64          `json:"placed_today"`
	Source      string         `json:"source"`
}

// Board lists the caller's pending orders, oldest first, with today's order
// count. Pending orders always come from the database; the Redis board only
// contributes its daily counter and is checked for orders it never saw.
func (e *OrderEngine) Board(ctx context.Context, ident domain.Identity) (*BoardSnapshot, error) {
	rid, err := e.callerRestaurant(ctx, ident, domain.ActionViewOrders)
	if err != nil {
		return nil, err
	}
	today := e.now().UTC()

	orders, err := e.store.ListOrders(ctx, OrderFilter{RestaurantID: rid})
	if err != nil {
		return nil, err
	}
	snap := &BoardSnapshot{Pending: []domain.Order{}, Source: "db"}
	y, m, d := today.Date()
	for _, o := range orders {
		if oy, om, od := o.OrderTime.UTC().Date(); oy == y && om == m && od == d {
			snap.PlacedToday++
		}
		if !o.IsFinished {
			snap.Pending = append(snap.Pending, o)
		}
	}
	sort.SliceStable(snap.Pending, func(i, j int) bool {
		return snap.Pending[i].OrderTime.Before(snap.Pending[j].OrderTime)
	})

	if e.board != nil {
		if err := e.mergeBoard(ctx, rid, today, snap); err != nil {
			e.logger.Warn("order board unavailable, serving db",
				zap.Int("restaurant_id", rid), zap.Error(err))
		}
	}
	return snap, nil
}

// mergeBoard leaves snap untouched when the board is empty or fails. Pending
// orders missing from the board mean an event was lost; the snapshot is then
// marked "redis+db".
func (e *OrderEngine) mergeBoard(ctx context.Context, rid int, today time.Time, snap *BoardSnapshot) error {
	ids, err := e.board.PendingOrderIDs(ctx, rid)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	placed, err := e.board.PlacedOn(ctx, rid, today)
	if err != nil {
		return err
	}

	onBoard := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		onBoard[id] = struct{}{}
	}
	missed := 0
	for _, o := range snap.Pending {
		if _, ok := onBoard[o.ID]; !ok {
			missed++
		}
	}

	snap.Source = "redis"
	if missed > 0 {
		snap.Source = "redis+db"
		e.logger.Warn("order board is missing pending orders",
			zap.Int("restaurant_id", rid), zap.Int("missing", missed))
	}
	if placed > snap.PlacedToday {
		snap.PlacedToday = placed
	}
	return nil
}

func (e *OrderEngine) authorizeOrders(ctx context.Context, ident domain.Identity, restaurantID int, action domain.Action) error {
	if !ident.Role.Can(action) {
		return fmt.Errorf("role %q: %w", ident.Role, ErrForbidden)
	}
	if ident.WorksAt(restaurantID) {
		return nil
	}
	rest, err := e.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return err
	}
	if rest.OwnerID != ident.UserID {
		return fmt.Errorf("user %d on restaurant %d: %w", ident.UserID, restaurantID, ErrForbidden)
	}
	return nil
}

// callerRestaurant resolves the restaurant an owner or staff member acts on.
func (e *OrderEngine) callerRestaurant(ctx context.Context, ident domain.Identity, action domain.Action) (int, error) {
	return resolveRestaurant(ctx, e.store, ident, action)
}

func resolveRestaurant(ctx context.Context, store Store, ident domain.Identity, action domain.Action) (int, error) {
	if !ident.Role.Can(action) {
		return 0, fmt.Errorf("role %q: %w", ident.Role, ErrForbidden)
	}
	if ident.Role == domain.RoleStaff {
		if ident.RestaurantID == nil {
			return 0, fmt.Errorf("staff %d is not attached to a restaurant: %w", ident.UserID, ErrForbidden)
		}
		return *ident.RestaurantID, nil
	}
	rest, err := store.GetRestaurantByOwner(ctx, ident.UserID)
	if err != nil {
		return 0, err
	}
	return rest.ID, nil
}

func (e *OrderEngine) publish(ctx context.Context, eventType string, order *domain.Order) {
	if e.publisher == nil {
		return
	}
	event := domain.OrderEvent{
		Type:         eventType,
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		TableNum:     order.TableNum,
		Cost:         order.Cost,
		Timestamp:    e.now().UTC(),
	}
	// the order is committed; Board reads pending orders from the db
	if err := e.publisher.PublishOrderEvent(ctx, event); err != nil {
		e.logger.Error("publish order event",
			zap.String("type", eventType),
			zap.Int("order_id", order.ID),
			zap.Error(err))
	}
}
