package service

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tabletap/internal/domain"
)

const menuImagePrefix = "menu_images/"

type MenuItemInput struct {
	Name       string          `json:"name" validate:"required,max=255"`
	Price      decimal.Decimal `json:"price"`
	CategoryID *int            `json:"category_id" validate:"omitempty,gt=0"`
}

type CategoryInput struct {
	Name string `json:"name" validate:"required,max=255"`
}

type CatalogServiceInterface interface {
	RestaurantForOwner(ctx context.Context, ident domain.Identity) (*domain.Restaurant, error)

	ListMenuItems(ctx context.Context, ident domain.Identity, categoryID *int, search string) ([]domain.MenuItem, error)
	GetMenuItem(ctx context.Context, ident domain.Identity, id int) (*domain.MenuItem, error)
	CreateMenuItem(ctx context.Context, ident domain.Identity, in MenuItemInput) (*domain.MenuItem, error)
	UpdateMenuItem(ctx context.Context, ident domain.Identity, id int, in MenuItemInput) (*domain.MenuItem, error)
	DeleteMenuItem(ctx context.Context, ident domain.Identity, id int) error
	UploadMenuItemImage(ctx context.Context, ident domain.Identity, id int, filename string, data []byte) (*domain.MenuItem, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, ident domain.Identity, in CategoryInput) (*domain.Category, error)
	DeleteCategory(ctx context.Context, ident domain.Identity, id int) error

	PublicMenu(ctx context.Context, restaurantID, tableNum int) (*domain.Menu, error)
	StaffMenu(ctx context.Context, ident domain.Identity) (*domain.Menu, error)
	MenuImage(ctx context.Context, key string) ([]byte, error)
}

type CatalogService struct {
	store     Store
	artifacts ArtifactStore
	logger    *zap.Logger
}

func NewCatalogService(store Store, artifacts ArtifactStore, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{store: store, artifacts: artifacts, logger: logger.Named("catalog")}
}

var _ CatalogServiceInterface = (*CatalogService)(nil)

func (s *CatalogService) RestaurantForOwner(ctx context.Context, ident domain.Identity) (*domain.Restaurant, error) {
	if ident.Role != domain.RoleOwner {
		return nil, fmt.Errorf("role %q has no restaurant: %w", ident.Role, ErrForbidden)
	}
	return s.store.GetRestaurantByOwner(ctx, ident.UserID)
}

func (s *CatalogService) menuRestaurant(ctx context.Context, ident domain.Identity) (*domain.Restaurant, error) {
	if !ident.Role.Can(domain.ActionManageMenu) {
		return nil, fmt.Errorf("role %q cannot manage a menu: %w", ident.Role, ErrForbidden)
	}
	return s.store.GetRestaurantByOwner(ctx, ident.UserID)
}

func (s *CatalogService) ListMenuItems(ctx context.Context, ident domain.Identity, categoryID *int, search string) ([]domain.MenuItem, error) {
	rest, err := s.menuRestaurant(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.store.ListMenuItems(ctx, MenuFilter{
		RestaurantID: rest.ID,
		CategoryID:   categoryID,
		Search:       strings.TrimSpace(search),
	})
}

func (s *CatalogService) GetMenuItem(ctx context.Context, ident domain.Identity, id int) (*domain.MenuItem, error) {
	rest, err := s.menuRestaurant(ctx, ident)
	if err != nil {
		return nil, err
	}
	return s.store.GetMenuItem(ctx, rest.ID, id)
}

func (s *CatalogService) CreateMenuItem(ctx context.Context, ident domain.Identity, in MenuItemInput) (*domain.MenuItem, error) {
	if err := validateMenuItem(in); err != nil {
		return nil, err
	}
	rest, err := s.menuRestaurant(ctx, ident)
	if err != nil {
		return nil, err
	}

	item := &domain.MenuItem{
		RestaurantID: rest.ID,
		CategoryID:   in.CategoryID,
		Name:         in.Name,
		Price:        in.Price.Round(2),
	}
	if err := s.store.CreateMenuItem(ctx, item); err != nil {
		return nil, err
	}
	s.logger.Info("menu item created", zap.Int("restaurant_id", rest.ID), zap.Int("item_id", item.ID))
	return item, nil
}

func (s *CatalogService) UpdateMenuItem(ctx context.Context, ident domain.Identity, id int, in MenuItemInput) (*domain.MenuItem, error) {
	if err := validateMenuItem(in); err != nil {
		return nil, err
	}
	rest, err := s.menuRestaurant(ctx, ident)
	if err != nil {
		return nil, err
	}

	item, err := s.store.GetMenuItem(ctx, rest.ID, id)
	if err != nil {
		return nil, err
	}
	item.Name = in.Name
	item.Price = in.Price.Round(2)
	item.CategoryID = in.CategoryID
	if err := s.store.UpdateMenuItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *CatalogService) DeleteMenuItem(ctx context.Context, ident domain.Identity, id int) error {
	rest, err := s.menuRestaurant(ctx, ident)
	if err != nil {
		return err
	}
	n, err := s.store.DeleteMenuItem(ctx, rest.ID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("menu item", id)
	}
	return nil
}

var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// UploadMenuItemImage stores the image under a fresh key so cached copies of
// the previous image are never served for the new one.
func (s *CatalogService) UploadMenuItemImage(ctx context.Context, ident domain.Identity, id int, filename string, data []byte) (*domain.MenuItem, error) {
	if len(data) == 0 {
		return nil, NewValidationError("image", "this field is required")
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageTypes[contentType]
	if !ok {
		return nil, NewValidationError("image", "unsupported image type "+contentType)
	}

	rest, err := s.menuRestaurant(ctx, ident)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetMenuItem(ctx, rest.ID, id)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%sr%d_%s_%s%s", menuImagePrefix, rest.ID, safeName(filename), uuid.NewString()[:8], ext)

	if err := s.artifacts.Write(ctx, key, data, contentType); err != nil {
		return nil, &StorageError{Op: "write", Key: key, Err: err}
	}
	if err := s.store.UpdateMenuItemImage(ctx, rest.ID, item.ID, key); err != nil {
		return nil, err
	}
	item.Image = key

	s.logger.Info("menu item image uploaded",
		zap.Int("item_id", item.ID),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return item, nil
}

// safeName reduces a client file name to [A-Za-z0-9_-] so that it can be
// part of an artifact key.
func safeName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, base)
	if len(base) > 64 {
		base = base[:64]
	}
	if base == "" {
		return "item"
	}
	return base
}

func (s *CatalogService) MenuImage(ctx context.Context, key string) ([]byte, error) {
	if !strings.HasPrefix(key, menuImagePrefix) || strings.Contains(key, "..") {
		return nil, fmt.Errorf("image %q: %w", key, ErrNotFound)
	}
	ok, err := s.artifacts.Exists(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "exists", Key: key, Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("image %q: %w", key, ErrNotFound)
	}
	data, err := s.artifacts.Read(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: key, Err: err}
	}
	return data, nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *CatalogService) CreateCategory(ctx context.Context, ident domain.Identity, in CategoryInput) (*domain.Category, error) {
	if !ident.Role.Can(domain.ActionManageCategories) {
		return nil, fmt.Errorf("role %q cannot manage categories: %w", ident.Role, ErrForbidden)
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	cat := &domain.Category{Name: strings.TrimSpace(in.Name)}
	if err := s.store.CreateCategory(ctx, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (s *CatalogService) DeleteCategory(ctx context.Context, ident domain.Identity, id int) error {
	if !ident.Role.Can(domain.ActionManageCategories) {
		return fmt.Errorf("role %q cannot manage categories: %w", ident.Role, ErrForbidden)
	}
	n, err := s.store.DeleteCategory(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("category", id)
	}
	return nil
}

// PublicMenu is what a diner sees after scanning a table's QR code.
func (s *CatalogService) PublicMenu(ctx context.Context, restaurantID, tableNum int) (*domain.Menu, error) {
	rest, err := s.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	table, err := s.store.GetTableByNum(ctx, restaurantID, tableNum)
	if err != nil {
		return nil, err
	}
	sections, err := s.sections(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return &domain.Menu{Restaurant: *rest, Table: table, Sections: sections}, nil
}

func (s *CatalogService) StaffMenu(ctx context.Context, ident domain.Identity) (*domain.Menu, error) {
	rid, err := resolveRestaurant(ctx, s.store, ident, domain.ActionViewOrders)
	if err != nil {
		return nil, err
	}
	rest, err := s.store.GetRestaurant(ctx, rid)
	if err != nil {
		return nil, err
	}
	tables, err := s.store.ListTables(ctx, rid)
	if err != nil {
		return nil, err
	}
	sections, err := s.sections(ctx, rid)
	if err != nil {
		return nil, err
	}
	return &domain.Menu{Restaurant: *rest, Tables: tables, Sections: sections}, nil
}

// sections groups items by category in category-list order. Items without a
// category go into a trailing section with a zero Category.
func (s *CatalogService) sections(ctx context.Context, restaurantID int) ([]domain.MenuSection, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListMenuItems(ctx, MenuFilter{RestaurantID: restaurantID})
	if err != nil {
		return nil, err
	}

	byCat := make(map[int][]domain.MenuItem)
	var uncategorized []domain.MenuItem
	for _, it := range items {
		if it.CategoryID == nil {
			uncategorized = append(uncategorized, it)
			continue
		}
		byCat[*it.CategoryID] = append(byCat[*it.CategoryID], it)
	}

	sections := make([]domain.MenuSection, 0, len(cats)+1)
	for _, c := range cats {
		if list := byCat[c.ID]; len(list) > 0 {
			sections = append(sections, domain.MenuSection{Category: c, Items: list})
		}
	}
	if len(uncategorized) > 0 {
		sections = append(sections, domain.MenuSection{Items: uncategorized})
	}
	return sections, nil
}

func validateMenuItem(in MenuItemInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.Price.IsNegative() {
		return NewValidationError("price", "must be at least 0")
	}
	if in.Price.GreaterThanOrEqual(decimal.New(1, 8)) {
		return NewValidationError("price", "must be less than 100000000")
	}
	return nil
}
