package service_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tabletap/internal/domain"
	"tabletap/internal/mocks"
	"tabletap/internal/service"
	"tabletap/internal/storage"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func intPtr(v int) *int { return &v }

func TestCatalogService_MenuItemLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	catalog := service.NewCatalogService(e.store, e.artifacts, nil)
	owner := e.user(t, "alice", domain.RoleOwner)
	rest := e.restaurant(t, owner, "Cafe A", 1)
	admin := e.user(t, "root", domain.RoleAdmin)

	drinks, err := catalog.CreateCategory(ctx, admin, service.CategoryInput{Name: " Drinks "})
	require.NoError(t, err)
	assert.Equal(t, "Drinks", drinks.Name)

	item, err := catalog.CreateMenuItem(ctx, owner, service.MenuItemInput{
		Name:       "Latte",
		Price:      decimal.RequireFromString("3.999"),
		CategoryID: &drinks.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, rest.ID, item.RestaurantID)
	assert.Equal(t, "4.00", item.Price.StringFixed(2))

	got, err := catalog.GetMenuItem(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Drinks", got.CategoryName)

	updated, err := catalog.UpdateMenuItem(ctx, owner, item.ID, service.MenuItemInput{Name: "Flat White", Price: decimal.RequireFromString("4.20")})
	require.NoError(t, err)
	assert.Equal(t, "Flat White", updated.Name)
	assert.Nil(t, updated.CategoryID)

	require.NoError(t, catalog.DeleteMenuItem(ctx, owner, item.ID))
	assert.ErrorIs(t, catalog.DeleteMenuItem(ctx, owner, item.ID), service.ErrNotFound)
	_, err = catalog.GetMenuItem(ctx, owner, item.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestCatalogService_MenuItemValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	catalog := service.NewCatalogService(e.store, e.artifacts, nil)
	owner := e.user(t, "alice", domain.RoleOwner)
	e.restaurant(t, owner, "Cafe A", 0)
	staff := e.user(t, "carol", domain.RoleStaff)

	tests := []struct {
		name    string
		ident   domain.Identity
		input   service.MenuItemInput
		wantErr error
		field   string
	}{
		{name: "missing name", ident: owner, input: service.MenuItemInput{Price: decimal.NewFromInt(1)}, wantErr: service.ErrValidation, field: "name"},
		{name: "negative price", ident: owner, input: service.MenuItemInput{Name: "X", Price: decimal.NewFromInt(-1)}, wantErr: service.ErrValidation, field: "price"},
		{name: "price too large", ident: owner, input: service.MenuItemInput{Name: "X", Price: decimal.New(1, 8)}, wantErr: service.ErrValidation, field: "price"},
		{name: "unknown category", ident: owner, input: service.MenuItemInput{Name: "X", Price: decimal.NewFromInt(1), CategoryID: intPtr(4242)}, wantErr: service.ErrValidation, field: "category_id"},
		{name: "staff cannot edit menu", ident: staff, input: service.MenuItemInput{Name: "X", Price: decimal.NewFromInt(1)}, wantErr: service.ErrForbidden},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := catalog.CreateMenuItem(ctx, testCase.ident, testCase.input)
			require.ErrorIs(t, err, testCase.wantErr)
			if testCase.field != "" {
				var verr *service.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Fields, testCase.field)
			}
		})
	}
}

func TestCatalogService_ListMenuItemsFilters(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	catalog := service.NewCatalogService(e.store, e.artifacts, nil)
	owner := e.user(t, "alice", domain.RoleOwner)
	rest := e.restaurant(t, owner, "Cafe A", 0)

	desserts := &domain.Category{Name: "Desserts"}
	require.NoError(t, e.store.CreateCategory(ctx, desserts))
	cake := &domain.MenuItem{RestaurantID: rest.ID, Name: "Cheesecake", Price: decimal.NewFromInt(5), CategoryID: &desserts.ID}
	require.NoError(t, e.store.CreateMenuItem(ctx, cake))
	e.menuItem(t, rest.ID, "Coffee", "3.50")

	other := e.user(t, "bob", domain.RoleOwner)
	otherRest := e.restaurant(t, other, "Cafe B", 0)
	e.menuItem(t, otherRest.ID, "Cherry Pie", "4.00")

	tests := []struct {
		name     string
		category *int
		search   string
		want     []string
	}{
		{name: "all", want: []string{"Cheesecake", "Coffee"}},
		{name: "by category", category: &desserts.ID, want: []string{"Cheesecake"}},
		{name: "search by name", search: "coff", want: []string{"Coffee"}},
		{name: "search by category name", search: "DESSERT", want: []string{"Cheesecake"}},
		{name: "no match", search: "pie", want: []string{}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			items, err := catalog.ListMenuItems(ctx, owner, testCase.category, testCase.search)
			require.NoError(t, err)
			names := []string{}
			for _, it := range items {
				names = append(names, it.Name)
			}
			assert.Equal(t, testCase.want, names)
		})
	}
}

func TestCatalogService_Categories(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	catalog := service.NewCatalogService(e.store, e.artifacts, nil)
	owner := e.user(t, "alice", domain.RoleOwner)
	rest := e.restaurant(t, owner, "Cafe A", 0)
	admin := e.user(t, "root", domain.RoleAdmin)

	_, err := catalog.CreateCategory(ctx, owner, service.CategoryInput{Name: "Mains"})
	assert.ErrorIs(t, err, service.ErrForbidden)
	_, err = catalog.CreateCategory(ctx, admin, service.CategoryInput{})
	assert.ErrorIs(t, err, service.ErrValidation)

	mains, err := catalog.CreateCategory(ctx, admin, service.CategoryInput{Name: "Mains"})
	require.NoError(t, err)
	item := &domain.MenuItem{RestaurantID: rest.ID, Name: "Steak", Price: decimal.NewFromInt(20), CategoryID: &mains.ID}
	require.NoError(t, e.store.CreateMenuItem(ctx, item))

	cats, err := catalog.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)

	require.NoError(t, catalog.DeleteCategory(ctx, admin, mains.ID))
	assert.ErrorIs(t, catalog.DeleteCategory(ctx, admin, mains.ID), service.ErrNotFound)

	// items survive without a category
	got, err := e.store.GetMenuItem(ctx, rest.ID, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
}

func TestCatalogService_Menus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	catalog := service.NewCatalogService(e.store, e.artifacts, nil)
	owner := e.user(t, "alice", domain.RoleOwner)
	rest := e.restaurant(t, owner, "Cafe A", 2)

	drinks := &domain.Category{Name: "Drinks"}
	mains := &domain.Category{Name: "Mains"}
	require.NoError(t, e.store.CreateCategory(ctx, mains))
	require.NoError(t, e.store.CreateCategory(ctx, drinks))
	require.NoError(t, e.store.CreateMenuItem(ctx, &domain.MenuItem{RestaurantID: rest.ID, Name: "Steak", Price: decimal.NewFromInt(20), CategoryID: &mains.ID}))
	require.NoError(t, e.store.CreateMenuItem(ctx, &domain.MenuItem{RestaurantID: rest.ID, Name: "Tea", Price: decimal.NewFromInt(2), CategoryID: &drinks.ID}))
	e.menuItem(t, rest.ID, "Bread", "1.00")

	menu, err := catalog.PublicMenu(ctx, rest.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "Cafe A", menu.Restaurant.Name)
	require.NotNil(t, menu.Table)
	assert.Equal(t, 2, menu.Table.TableNum)
	require.Len(t, menu.Sections, 3)
	assert.Equal(t, "Drinks", menu.Sections[0].Category.Name)
	assert.Equal(t, "Mains", menu.Sections[1].Category.Name)
	assert.Zero(t, menu.Sections[2].Category.ID)
	assert.Equal(t, "Bread", menu.Sections[2].Items[0].Name)

	_, err = catalog.PublicMenu(ctx, rest.ID, 3)
	assert.ErrorIs(t, err, service.ErrNotFound)

	staff := e.staff(t, "carol", rest.ID)
	staffMenu, err := catalog.StaffMenu(ctx, staff)
	require.NoError(t, err)
	assert.Len(t, staffMenu.Tables, 2)
	assert.Len(t, staffMenu.Sections, 3)
}

func TestCatalogService_UploadMenuItemImage(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	catalog := service.NewCatalogService(e.store, e.artifacts, nil)
	owner := e.user(t, "alice", domain.RoleOwner)
	rest := e.restaurant(t, owner, "Cafe A", 0)
	item := e.menuItem(t, rest.ID, "Cake", "5.25")
	data := pngBytes(t)

	first, err := catalog.UploadMenuItemImage(ctx, owner, item.ID, "cake photo.png", data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.Image, "menu_images/r"), first.Image)
	assert.True(t, strings.HasSuffix(first.Image, ".png"), first.Image)

	second, err := catalog.UploadMenuItemImage(ctx, owner, item.ID, "cake photo.png", data)
	require.NoError(t, err)
	assert.NotEqual(t, first.Image, second.Image)

	served, err := catalog.MenuImage(ctx, second.Image)
	require.NoError(t, err)
	assert.Equal(t, data, served)

	stored, err := e.store.GetMenuItem(ctx, rest.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, second.Image, stored.Image)

	_, err = catalog.UploadMenuItemImage(ctx, owner, item.ID, "notes.txt", []byte("plain text, not an image"))
	assert.ErrorIs(t, err, service.ErrValidation)

	_, err = catalog.MenuImage(ctx, "qr_codes/"+service.QRKey(rest.ID, 1))
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = catalog.MenuImage(ctx, "menu_images/../secret")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestCatalogService_UploadKeyFromUntrustedFilename(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	catalog := service.NewCatalogService(e.store, e.artifacts, nil)
	owner := e.user(t, "alice", domain.RoleOwner)
	rest := e.restaurant(t, owner, "Cafe A", 0)
	item := e.menuItem(t, rest.ID, "Cake", "5.25")
	data := pngBytes(t)

	tests := []struct {
		filename string
		want     string
	}{
		{filename: "my..photo.jpg", want: "_myphoto_"},
		{filename: "../../etc/passwd", want: "_passwd_"},
		{filename: `C:\Users\me\cake.png`, want: "_cake_"},
		{filename: "..", want: "_item_"},
		{filename: "", want: "_item_"},
	}

	for _, testCase := range tests {
		t.Run(testCase.filename, func(t *testing.T) {
			updated, err := catalog.UploadMenuItemImage(ctx, owner, item.ID, testCase.filename, data)
			require.NoError(t, err)
			assert.NotContains(t, updated.Image, "..")
			assert.Contains(t, updated.Image, testCase.want)

			served, err := catalog.MenuImage(ctx, updated.Image)
			require.NoError(t, err)
			assert.Equal(t, data, served)
		})
	}
}

func TestCatalogService_UploadWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	artifacts := mocks.NewArtifactStore(t)
	catalog := service.NewCatalogService(store, artifacts, nil)

	owner := &domain.User{Username: "alice", Role: domain.RoleOwner}
	require.NoError(t, store.CreateUser(ctx, owner))
	rest := &domain.Restaurant{Name: "Cafe A", OwnerID: owner.ID}
	require.NoError(t, store.CreateRestaurant(ctx, rest))
	item := &domain.MenuItem{RestaurantID: rest.ID, Name: "Cake", Price: decimal.NewFromInt(5)}
	require.NoError(t, store.CreateMenuItem(ctx, item))

	artifacts.On("Write", mock.Anything, mock.AnythingOfType("string"), mock.Anything, "image/png").
		Return(errors.New("access denied")).Once()

	_, err := catalog.UploadMenuItemImage(ctx, domain.Identity{UserID: owner.ID, Role: domain.RoleOwner}, item.ID, "cake.png", pngBytes(t))
	assert.ErrorIs(t, err, service.ErrStorage)

	stored, err := store.GetMenuItem(ctx, rest.ID, item.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Image)
}
