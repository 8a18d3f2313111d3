package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tabletap/internal/domain"
)

// MaxTables caps table_count; every table is a row and a rendered PNG.
const MaxTables = 500

type RestaurantInput struct {
	Name       string `json:"name" validate:"required,max=255"`
	TableCount int    `json:"table_count" validate:"gte=0,max=500"`
}

type TableServiceInterface interface {
	RegisterRestaurant(ctx context.Context, ident domain.Identity, in RestaurantInput) (*domain.Restaurant, error)
	UpdateRestaurant(ctx context.Context, ident domain.Identity, in RestaurantInput) (*domain.Restaurant, error)
	Reconcile(ctx context.Context, ident domain.Identity, restaurantID, tableCount int) (*domain.Restaurant, error)
	ListTables(ctx context.Context, ident domain.Identity) ([]domain.Table, error)
	QRCode(ctx context.Context, restaurantID, tableNum int) ([]byte, error)
}

// TableManager keeps a restaurant's table rows in line with its table_count
// and makes sure every table has a QR image pointing at its menu.
type TableManager struct {
	store     Store
	artifacts ArtifactStore
	codec     QRCodec
	baseURL   string
	logger    *zap.Logger
}

func NewTableManager(store Store, artifacts ArtifactStore, codec QRCodec, baseURL string, logger *zap.Logger) *TableManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableManager{
		store:     store,
		artifacts: artifacts,
		codec:     codec,
		baseURL:   baseURL,
		logger:    logger.Named("tables"),
	}
}

var _ TableServiceInterface = (*TableManager)(nil)

func (m *TableManager) RegisterRestaurant(ctx context.Context, ident domain.Identity, in RestaurantInput) (*domain.Restaurant, error) {
	if !ident.Role.Can(domain.ActionRegisterRestaurant) {
		return nil, fmt.Errorf("role %q cannot register a restaurant: %w", ident.Role, ErrForbidden)
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	var rest *domain.Restaurant
	err := m.store.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.GetRestaurantByOwner(ctx, ident.UserID); err == nil {
			return fmt.Errorf("owner %d already has a restaurant: %w", ident.UserID, ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		rest = &domain.Restaurant{Name: in.Name, OwnerID: ident.UserID}
		if err := tx.CreateRestaurant(ctx, rest); err != nil {
			return err
		}
		return m.reconcile(ctx, tx, rest, in.TableCount)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("restaurant registered",
		zap.Int("restaurant_id", rest.ID),
		zap.Int("owner_id", rest.OwnerID),
		zap.Int("table_count", rest.TableCount))
	return rest, nil
}

func (m *TableManager) UpdateRestaurant(ctx context.Context, ident domain.Identity, in RestaurantInput) (*domain.Restaurant, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	rest, err := m.ownedRestaurant(ctx, ident)
	if err != nil {
		return nil, err
	}
	return m.mutate(ctx, rest.ID, func(tx Store, locked *domain.Restaurant) error {
		locked.Name = in.Name
		return m.reconcile(ctx, tx, locked, in.TableCount)
	})
}

// Reconcile brings the restaurant's tables in line with tableCount: numbers
// above it are deleted, missing numbers up to it are appended, and every
// surviving table gets its QR image ensured. All of it is one transaction.
func (m *TableManager) Reconcile(ctx context.Context, ident domain.Identity, restaurantID, tableCount int) (*domain.Restaurant, error) {
	if tableCount < 0 {
		return nil, NewValidationError("table_count", "must be at least 0")
	}
	if tableCount > MaxTables {
		return nil, NewValidationError("table_count", fmt.Sprintf("must be at most %d", MaxTables))
	}
	rest, err := m.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(ident, rest, domain.ActionManageRestaurant); err != nil {
		return nil, err
	}
	return m.mutate(ctx, rest.ID, func(tx Store, locked *domain.Restaurant) error {
		return m.reconcile(ctx, tx, locked, tableCount)
	})
}

func (m *TableManager) mutate(ctx context.Context, restaurantID int, fn func(tx Store, locked *domain.Restaurant) error) (*domain.Restaurant, error) {
	var rest *domain.Restaurant
	err := m.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.LockRestaurant(ctx, restaurantID); err != nil {
			return err
		}
		// re-read under the lock
		locked, err := tx.GetRestaurant(ctx, restaurantID)
		if err != nil {
			return err
		}
		if err := fn(tx, locked); err != nil {
			return err
		}
		rest = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("restaurant tables reconciled",
		zap.Int("restaurant_id", rest.ID),
		zap.Int("table_count", rest.TableCount))
	return rest, nil
}

func (m *TableManager) reconcile(ctx context.Context, tx Store, rest *domain.Restaurant, target int) error {
	current, err := tx.CountTables(ctx, rest.ID)
	if err != nil {
		return err
	}

	switch {
	case target > current:
		for num := current + 1; num <= target; num++ {
			if err := tx.CreateTable(ctx, &domain.Table{RestaurantID: rest.ID, TableNum: num}); err != nil {
				return fmt.Errorf("create table %d: %w", num, err)
			}
		}
	case target < current:
		if _, err := tx.DeleteTablesAbove(ctx, rest.ID, target); err != nil {
			return fmt.Errorf("delete tables above %d: %w", target, err)
		}
	}

	rest.TableCount = target
	if err := tx.UpdateRestaurant(ctx, rest); err != nil {
		return err
	}

	tables, err := tx.ListTables(ctx, rest.ID)
	if err != nil {
		return err
	}
	for i := range tables {
		if err := m.EnsureQR(ctx, tx, rest, &tables[i]); err != nil {
			return err
		}
	}
	return nil
}

// EnsureQR generates and stores the table's QR image unless the table already
// references an artifact that exists. Content is a pure function of the key,
// so concurrent callers for one key only duplicate work.
func (m *TableManager) EnsureQR(ctx context.Context, tx Store, rest *domain.Restaurant, table *domain.Table) error {
	key := QRArtifactKey(rest.ID, table.TableNum)

	exists, err := m.artifacts.Exists(ctx, key)
	if err != nil {
		return &StorageError{Op: "exists", Key: key, Err: err}
	}
	if exists && table.QRCode != "" {
		return nil
	}

	symbol, err := m.codec.Encode(MenuURL(m.baseURL, rest.ID, table.TableNum))
	if err != nil {
		return fmt.Errorf("encode qr for table %d: %w", table.TableNum, err)
	}
	data, err := renderQR(symbol, QRCanvasSize)
	if err != nil {
		return fmt.Errorf("render qr for table %d: %w", table.TableNum, err)
	}
	if err := m.artifacts.Write(ctx, key, data, "image/png"); err != nil {
		return &StorageError{Op: "write", Key: key, Err: err}
	}

	if err := tx.SetTableQRCode(ctx, table.ID, key); err != nil {
		return err
	}
	table.QRCode = key

	m.logger.Debug("qr code generated",
		zap.Int("restaurant_id", rest.ID),
		zap.Int("table_num", table.TableNum),
		zap.String("key", key))
	return nil
}

func (m *TableManager) ListTables(ctx context.Context, ident domain.Identity) ([]domain.Table, error) {
	rest, err := m.ownedRestaurant(ctx, ident)
	if err != nil {
		return nil, err
	}
	return m.store.ListTables(ctx, rest.ID)
}

func (m *TableManager) QRCode(ctx context.Context, restaurantID, tableNum int) ([]byte, error) {
	table, err := m.store.GetTableByNum(ctx, restaurantID, tableNum)
	if err != nil {
		return nil, err
	}
	if table.QRCode == "" {
		return nil, fmt.Errorf("qr code for table %d: %w", tableNum, ErrNotFound)
	}
	data, err := m.artifacts.Read(ctx, table.QRCode)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: table.QRCode, Err: err}
	}
	return data, nil
}

func (m *TableManager) ownedRestaurant(ctx context.Context, ident domain.Identity) (*domain.Restaurant, error) {
	if !ident.Role.Can(domain.ActionManageRestaurant) {
		return nil, fmt.Errorf("role %q cannot manage a restaurant: %w", ident.Role, ErrForbidden)
	}
	return m.store.GetRestaurantByOwner(ctx, ident.UserID)
}

// authorizeOwner checks both the role and that the caller owns rest.
func authorizeOwner(ident domain.Identity, rest *domain.Restaurant, action domain.Action) error {
	if !ident.Role.Can(action) || rest.OwnerID != ident.UserID {
		return fmt.Errorf("user %d on restaurant %d: %w", ident.UserID, rest.ID, ErrForbidden)
	}
	return nil
}
