package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletap/internal/domain"
	"tabletap/internal/service"
)

func setupPostgres(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresRepository(db), mock
}

var userCols = []string{"id", "username", "email", "password_hash", "role", "restaurant_id", "created_at"}

func TestPostgres_CreateUser(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		setup   func(m sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "inserted",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("INSERT INTO users").
					WithArgs("alice", "alice@example.test", "hash", "owner").
					WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, created))
			},
		},
		{
			name: "duplicate username",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("INSERT INTO users").
					WithArgs("alice", "alice@example.test", "hash", "owner").
					WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})
			},
			wantErr: service.ErrConflict,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			repo, mock := setupPostgres(t)
			testCase.setup(mock)

			u := &domain.User{Username: "alice", Email: "alice@example.test", PasswordHash: "hash", Role: domain.RoleOwner}
			err := repo.CreateUser(context.Background(), u)
			if testCase.wantErr != nil {
				assert.ErrorIs(t, err, testCase.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 7, u.ID)
			assert.Equal(t, created, u.CreatedAt)
		})
	}
}

func TestPostgres_GetUser(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantRID *int
		wantErr error
	}{
		{
			name: "staff with restaurant",
			rows: sqlmock.NewRows(userCols).AddRow(3, "carol", "c@example.test", "h", "staff", 11, now),
			wantRID: func() *int {
				v := 11
				return &v
			}(),
		},
		{
			name: "owner without restaurant",
			rows: sqlmock.NewRows(userCols).AddRow(3, "carol", "c@example.test", "h", "owner", nil, now),
		},
		{
			name:    "missing",
			rows:    sqlmock.NewRows(userCols),
			wantErr: service.ErrNotFound,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			repo, mock := setupPostgres(t)
			mock.ExpectQuery("SELECT id, username, email").WithArgs(3).WillReturnRows(testCase.rows)

			u, err := repo.GetUser(context.Background(), 3)
			if testCase.wantErr != nil {
				assert.ErrorIs(t, err, testCase.wantErr)
				assert.Nil(t, u)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "carol", u.Username)
			assert.Equal(t, testCase.wantRID, u.RestaurantID)
		})
	}
}

func TestPostgres_WithinTxCommits(t *testing.T) {
	repo, mock := setupPostgres(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM restaurants WHERE id = \$1 FOR UPDATE`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec("DELETE FROM restaurant_tables").
		WithArgs(5, 2).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	var deleted int64
	err := repo.WithinTx(context.Background(), func(tx service.Store) error {
		if err := tx.LockRestaurant(context.Background(), 5); err != nil {
			return err
		}
		// nested transactions reuse the outer one
		return tx.WithinTx(context.Background(), func(inner service.Store) error {
			n, err := inner.DeleteTablesAbove(context.Background(), 5, 2)
			deleted = n
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
}

func TestPostgres_WithinTxRollsBack(t *testing.T) {
	repo, mock := setupPostgres(t)
	orderTime := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(1, 2, false, sqlmock.AnyArg(), orderTime).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(40))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(40, 9, 1, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23503", Column: "item_id"})
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(tx service.Store) error {
		order := &domain.Order{RestaurantID: 1, TableID: 2, Cost: decimal.RequireFromString("3.50"), OrderTime: orderTime}
		if err := tx.CreateOrder(context.Background(), order); err != nil {
			return err
		}
		return tx.CreateOrderItem(context.Background(), &domain.OrderItem{OrderID: order.ID, MenuItemID: 9, Quantity: 1, Price: order.Cost})
	})

	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "references a missing row", verr.Fields["item_id"])
}

func TestPostgres_WithinTxBeginFails(t *testing.T) {
	repo, mock := setupPostgres(t)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	called := false
	err := repo.WithinTx(context.Background(), func(tx service.Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.False(t, called)
}

func TestPostgres_ListMenuItemsFilters(t *testing.T) {
	cols := []string{"id", "restaurant_id", "category_id", "category_name", "name", "price", "image"}
	cat := 4

	tests := []struct {
		name   string
		filter service.MenuFilter
		query  string
		args   []driver.Value
	}{
		{
			name:   "restaurant only",
			filter: service.MenuFilter{RestaurantID: 1},
			query:  `WHERE m.restaurant_id = \$1 ORDER BY m.name, m.id`,
			args:   []driver.Value{1},
		},
		{
			name:   "category and escaped search",
			filter: service.MenuFilter{RestaurantID: 1, CategoryID: &cat, Search: "50%_off"},
			query:  `m.category_id = \$2 AND \(m.name ILIKE \$3 OR c.name ILIKE \$3\)`,
			args:   []driver.Value{1, 4, `%50\%\_off%`},
		},
		{
			name:   "search only",
			filter: service.MenuFilter{RestaurantID: 1, Search: "tea"},
			query:  `AND \(m.name ILIKE \$2 OR c.name ILIKE \$2\)`,
			args:   []driver.Value{1, "%tea%"},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			repo, mock := setupPostgres(t)
			mock.ExpectQuery(testCase.query).
				WithArgs(testCase.args...).
				WillReturnRows(sqlmock.NewRows(cols).
					AddRow(1, 1, nil, "", "Bread", "1.00", "").
					AddRow(2, 1, 4, "Drinks", "Tea", "2.50", "menu_images/r1_tea.png"))

			items, err := repo.ListMenuItems(context.Background(), testCase.filter)
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Nil(t, items[0].CategoryID)
			require.NotNil(t, items[1].CategoryID)
			assert.Equal(t, 4, *items[1].CategoryID)
			assert.Equal(t, "Drinks", items[1].CategoryName)
			assert.Equal(t, "2.50", items[1].Price.StringFixed(2))
		})
	}
}

func TestPostgres_ListOrdersFilters(t *testing.T) {
	cols := []string{"id", "restaurant_id", "table_id", "table_num", "is_finished", "cost", "order_time"}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		filter service.OrderFilter
		query  string
		args   []driver.Value
	}{
		{
			name:   "all",
			filter: service.OrderFilter{RestaurantID: 3},
			query:  `WHERE o.restaurant_id = \$1 ORDER BY o.order_time DESC, o.id DESC`,
			args:   []driver.Value{3},
		},
		{
			name:   "pending at matching tables",
			filter: service.OrderFilter{RestaurantID: 3, TableSearch: "1", Status: domain.StatusPending},
			query:  `CAST\(t.table_num AS TEXT\) LIKE \$2 AND o.is_finished = FALSE ORDER BY`,
			args:   []driver.Value{3, "%1%"},
		},
		{
			name:   "finished",
			filter: service.OrderFilter{RestaurantID: 3, Status: domain.StatusFinished},
			query:  `AND o.is_finished = TRUE ORDER BY`,
			args:   []driver.Value{3},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			repo, mock := setupPostgres(t)
			mock.ExpectQuery(testCase.query).
				WithArgs(testCase.args...).
				WillReturnRows(sqlmock.NewRows(cols).AddRow(8, 3, 21, 1, false, "34.47", now))

			orders, err := repo.ListOrders(context.Background(), testCase.filter)
			require.NoError(t, err)
			require.Len(t, orders, 1)
			assert.Equal(t, 1, orders[0].TableNum)
			assert.Equal(t, "34.47", orders[0].Cost.StringFixed(2))
		})
	}
}

func TestPostgres_RowsAffected(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m sqlmock.Sqlmock)
		call    func(r *PostgresRepository) error
		wantErr error
	}{
		{
			name: "finish existing order",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE orders SET is_finished = TRUE").WithArgs(8).WillReturnResult(sqlmock.NewResult(0, 1))
			},
			call: func(r *PostgresRepository) error { return r.MarkOrderFinished(context.Background(), 8) },
		},
		{
			name: "finish missing order",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE orders SET is_finished = TRUE").WithArgs(8).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			call:    func(r *PostgresRepository) error { return r.MarkOrderFinished(context.Background(), 8) },
			wantErr: service.ErrNotFound,
		},
		{
			name: "qr key on missing table",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE restaurant_tables SET qr_code").WithArgs("qr_codes/x.png", 2).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			call:    func(r *PostgresRepository) error { return r.SetTableQRCode(context.Background(), 2, "qr_codes/x.png") },
			wantErr: service.ErrNotFound,
		},
		{
			name: "driver error passes through",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectExec("UPDATE users SET restaurant_id").WithArgs(5, 3).WillReturnError(sql.ErrConnDone)
			},
			call:    func(r *PostgresRepository) error { return r.SetUserRestaurant(context.Background(), 3, 5) },
			wantErr: sql.ErrConnDone,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			repo, mock := setupPostgres(t)
			testCase.setup(mock)
			err := testCase.call(repo)
			if testCase.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, testCase.wantErr), "got %v", err)
		})
	}
}

func TestPostgres_CreateMenuItemUnknownCategory(t *testing.T) {
	repo, mock := setupPostgres(t)
	cat := 99
	mock.ExpectQuery("INSERT INTO menu_items").
		WithArgs(1, int64(99), "Tea", sqlmock.AnyArg(), "").
		WillReturnError(&pq.Error{Code: "23503", Constraint: "menu_items_category_id_fkey"})

	err := repo.CreateMenuItem(context.Background(), &domain.MenuItem{
		RestaurantID: 1, CategoryID: &cat, Name: "Tea", Price: decimal.NewFromInt(2),
	})
	var verr *service.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "menu_items_category_id_fkey")
}

func TestPostgres_EnsureSchema(t *testing.T) {
	repo, mock := setupPostgres(t)
	for range schema {
		mock.ExpectExec(".+").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, repo.EnsureSchema(context.Background()))
}

func TestPostgres_EnsureSchemaReportsStatement(t *testing.T) {
	repo, mock := setupPostgres(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("permission denied"))

	err := repo.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREATE TABLE IF NOT EXISTS users")
}
