package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	RestaurantID *int      `json:"restaurant_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Restaurant struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	OwnerID    int       `json:"owner_id"`
	TableCount int       `json:"table_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Table is a numbered seating unit. QRCode holds the artifact key of its
// QR image and is empty until one has been generated.
type Table struct {
	ID           int    `json:"id"`
	RestaurantID int    `json:"restaurant_id"`
	TableNum     int    `json:"table_num"`
	QRCode       string `json:"qr_code"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type MenuItem struct {
	ID           int             `json:"id"`
	RestaurantID int             `json:"restaurant_id"`
	CategoryID   *int            `json:"category_id"`
	CategoryName string          `json:"category_name,omitempty"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Image        string          `json:"image,omitempty"`
}

type Order struct {
	ID           int             `json:"id"`
	RestaurantID int             `json:"restaurant_id"`
	TableID      int             `json:"table_id"`
	TableNum     int             `json:"table_num,omitempty"`
	IsFinished   bool            `json:"is_finished"`
	Cost         decimal.Decimal `json:"cost"`
	OrderTime    time.Time       `json:"order_time"`
	Items        []OrderItem     `json:"items,omitempty"`
}

func (o Order) Status() OrderStatus {
	if o.IsFinished {
		return StatusFinished
	}
	return StatusPending
}

// OrderItem snapshots the unit price at order time. Subtotal is derived for
// display and never stored.
type OrderItem struct {
	ID         int             `json:"id"`
	OrderID    int             `json:"order_id"`
	MenuItemID int             `json:"item_id"`
	ItemName   string          `json:"item_name,omitempty"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusFinished OrderStatus = "finished"
)

// CartEntry is one client-submitted selection. It is not persisted as is.
type CartEntry struct {
	MenuItemID int             `json:"id" validate:"gt=0"`
	Quantity   int             `json:"quantity" validate:"gte=1"`
	Price      decimal.Decimal `json:"price"`
}

type OrderEvent struct {
	Type         string          `json:"type"`
	OrderID      int             `json:"order_id"`
	RestaurantID int             `json:"restaurant_id"`
	TableNum     int             `json:"table_num"`
	Cost         decimal.Decimal `json:"cost"`
	Timestamp    time.Time       `json:"timestamp"`
}

const (
	EventOrderPlaced   = "order_placed"
	EventOrderFinished = "order_finished"
)

type MenuSection struct {
	Category Category   `json:"category"`
	Items    []MenuItem `json:"items"`
}

type Menu struct {
	Restaurant Restaurant    `json:"restaurant"`
	Table      *Table        `json:"table,omitempty"`
	Tables     []Table       `json:"tables,omitempty"`
	Sections   []MenuSection `json:"sections"`
}
