package service

import (
	"context"
	"image"
	"time"

	"tabletap/internal/domain"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id int) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	SetUserRestaurant(ctx context.Context, userID, restaurantID int) error
}

type RestaurantRepository interface {
	CreateRestaurant(ctx context.Context, rest *domain.Restaurant) error
	GetRestaurant(ctx context.Context, id int) (*domain.Restaurant, error)
	GetRestaurantByOwner(ctx context.Context, ownerID int) (*domain.Restaurant, error)
	// LockRestaurant serializes restaurant-mutating transactions.
	LockRestaurant(ctx context.Context, id int) error
	UpdateRestaurant(ctx context.Context, rest *domain.Restaurant) error
}

type TableRepository interface {
	CountTables(ctx context.Context, restaurantID int) (int, error)
	CreateTable(ctx context.Context, table *domain.Table) error
	DeleteTablesAbove(ctx context.Context, restaurantID, tableNum int) (int64, error)
	ListTables(ctx context.Context, restaurantID int) ([]domain.Table, error)
	GetTable(ctx context.Context, id int) (*domain.Table, error)
	GetTableByNum(ctx context.Context, restaurantID, tableNum int) (*domain.Table, error)
	SetTableQRCode(ctx context.Context, tableID int, key string) error
}

type MenuFilter struct {
	RestaurantID int
	CategoryID   *int
	Search       string
}

type CatalogRepository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, cat *domain.Category) error
	DeleteCategory(ctx context.Context, id int) (int64, error)

	CreateMenuItem(ctx context.Context, item *domain.MenuItem) error
	GetMenuItem(ctx context.Context, restaurantID, id int) (*domain.MenuItem, error)
	ListMenuItems(ctx context.Context, filter MenuFilter) ([]domain.MenuItem, error)
	UpdateMenuItem(ctx context.Context, item *domain.MenuItem) error
	DeleteMenuItem(ctx context.Context, restaurantID, id int) (int64, error)
	UpdateMenuItemImage(ctx context.Context, restaurantID, id int, key string) error
}

type OrderFilter struct {
	RestaurantID int
	TableSearch  string
	Status       domain.OrderStatus
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	CreateOrderItem(ctx context.Context, item *domain.OrderItem) error
	GetOrder(ctx context.Context, id int) (*domain.Order, error)
	ListOrderItems(ctx context.Context, orderID int) ([]domain.OrderItem, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	MarkOrderFinished(ctx context.Context, id int) error
	DeleteOrder(ctx context.Context, id int) (int64, error)
}

// Store is the relational store. Repository methods return ErrNotFound
// (wrapped) for missing rows.
type Store interface {
	UserRepository
	RestaurantRepository
	TableRepository
	CatalogRepository
	OrderRepository

	// WithinTx runs fn against a transactional view of the store. A non-nil
	// error from fn rolls back every write made through that view.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte, contentType string) error
	Read(ctx context.Context, key string) ([]byte, error)
}

type QRCodec interface {
	Encode(text string) (image.Image, error)
}

type OrderPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// OrderBoard is the event-fed read model of pending orders.
type OrderBoard interface {
	PendingOrderIDs(ctx context.Context, restaurantID int) ([]int, error)
	PlacedOn(ctx context.Context, restaurantID int, day time.Time) (int64, error)
}
