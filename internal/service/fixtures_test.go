package service_test

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tabletap/internal/domain"
	"tabletap/internal/service"
	"tabletap/internal/storage"
)

const baseURL = "http://menu.example.test"

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type env struct {
	store     *storage.MemoryStore
	artifacts *storage.FileArtifactStore
	codec     *countingCodec
	tables    *service.TableManager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := storage.NewMemoryStore()
	artifacts := storage.NewFileArtifactStore(t.TempDir())
	codec := &countingCodec{}
	return &env{
		store:     store,
		artifacts: artifacts,
		codec:     codec,
		tables:    service.NewTableManager(store, artifacts, codec, baseURL, nil),
	}
}

// countingCodec wraps the real encoder and counts calls.
type countingCodec struct {
	calls atomic.Int32
}

func (c *countingCodec) Encode(text string) (image.Image, error) {
	c.calls.Add(1)
	return service.DefaultQRCodec{}.Encode(text)
}

func (e *env) user(t *testing.T, name string, role domain.Role) domain.Identity {
	t.Helper()
	u := &domain.User{Username: name, Email: name + "@example.test", Role: role}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return domain.Identity{UserID: u.ID, Role: role}
}

func (e *env) staff(t *testing.T, name string, restaurantID int) domain.Identity {
	t.Helper()
	ident := e.user(t, name, domain.RoleStaff)
	require.NoError(t, e.store.SetUserRestaurant(context.Background(), ident.UserID, restaurantID))
	rid := restaurantID
	ident.RestaurantID = &rid
	return ident
}

func (e *env) restaurant(t *testing.T, owner domain.Identity, name string, tables int) *domain.Restaurant {
	t.Helper()
	rest, err := e.tables.RegisterRestaurant(context.Background(), owner, service.RestaurantInput{Name: name, TableCount: tables})
	require.NoError(t, err)
	return rest
}

func (e *env) menuItem(t *testing.T, restaurantID int, name, price string) *domain.MenuItem {
	t.Helper()
	item := &domain.MenuItem{RestaurantID: restaurantID, Name: name, Price: decimal.RequireFromString(price)}
	require.NoError(t, e.store.CreateMenuItem(context.Background(), item))
	return item
}

func (e *env) table(t *testing.T, restaurantID, num int) *domain.Table {
	t.Helper()
	tbl, err := e.store.GetTableByNum(context.Background(), restaurantID, num)
	require.NoError(t, err)
	return tbl
}

func tableNums(tables []domain.Table) []int {
	nums := make([]int, 0, len(tables))
	for _, tbl := range tables {
		nums = append(nums, tbl.TableNum)
	}
	return nums
}

func entry(item *domain.MenuItem, qty int) domain.CartEntry {
	return domain.CartEntry{MenuItemID: item.ID, Quantity: qty, Price: item.Price}
}

// failingItemStore fails the n-th CreateOrderItem made inside a transaction.
type failingItemStore struct {
	service.Store
	failOn int
	calls  int
}

func (s *failingItemStore) WithinTx(ctx context.Context, fn func(tx service.Store) error) error {
	return s.Store.WithinTx(ctx, func(tx service.Store) error {
		return fn(&failingItemTx{Store: tx, parent: s})
	})
}

type failingItemTx struct {
	service.Store
	parent *failingItemStore
}

func (t *failingItemTx) CreateOrderItem(ctx context.Context, item *domain.OrderItem) error {
	t.parent.calls++
	if t.parent.calls == t.parent.failOn {
		return errors.New("connection reset by peer")
	}
	return t.Store.CreateOrderItem(ctx, item)
}
