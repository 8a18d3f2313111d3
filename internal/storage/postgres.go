package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"tabletap/internal/domain"
	"tabletap/internal/service"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRepository implements service.Store on database/sql. A repository
// returned to a WithinTx callback runs every statement on that transaction.
type PostgresRepository struct {
	DB *sql.DB
	q  querier
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{DB: db, q: db}
}

var _ service.Store = (*PostgresRepository)(nil)

func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx service.Store) error) error {
	if _, nested := r.q.(*sql.Tx); nested {
		return fn(r)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresRepository{DB: r.DB, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// mapErr translates driver errors into service sentinels.
func mapErr(err error, what string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, service.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s %v: %s: %w", what, id, pqErr.Constraint, service.ErrConflict)
		case "23503":
			field := pqErr.Column
			if field == "" {
				field = pqErr.Constraint
			}
			return &service.ValidationError{Fields: map[string]string{field: "references a missing row"}}
		}
	}
	return err
}

// users

const userColumns = "id, username, email, password_hash, role, restaurant_id, created_at"

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var (
		u   domain.User
		rid sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &rid, &u.CreatedAt); err != nil {
		return nil, err
	}
	if rid.Valid {
		v := int(rid.Int64)
		u.RestaurantID = &v
	}
	return &u, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		user.Username, user.Email, user.PasswordHash, user.Role).
		Scan(&user.ID, &user.CreatedAt)
	return mapErr(err, "user", user.Username)
}

func (r *PostgresRepository) GetUser(ctx context.Context, id int) (*domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, mapErr(err, "user", id)
	}
	return u, nil
}

func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if err != nil {
		return nil, mapErr(err, "user", username)
	}
	return u, nil
}

func (r *PostgresRepository) SetUserRestaurant(ctx context.Context, userID, restaurantID int) error {
	res, err := r.q.ExecContext(ctx, "UPDATE users SET restaurant_id = $1 WHERE id = $2", restaurantID, userID)
	if err != nil {
		return mapErr(err, "user", userID)
	}
	return expectRow(res, "user", userID)
}

// restaurants

func (r *PostgresRepository) CreateRestaurant(ctx context.Context, rest *domain.Restaurant) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO restaurants (name, owner_id, table_count)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		rest.Name, rest.OwnerID, rest.TableCount).
		Scan(&rest.ID, &rest.CreatedAt)
	return mapErr(err, "restaurant for owner", rest.OwnerID)
}

func (r *PostgresRepository) GetRestaurant(ctx context.Context, id int) (*domain.Restaurant, error) {
	var rest domain.Restaurant
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, owner_id, table_count, created_at
		FROM restaurants WHERE id = $1`, id).
		Scan(&rest.ID, &rest.Name, &rest.OwnerID, &rest.TableCount, &rest.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "restaurant", id)
	}
	return &rest, nil
}

func (r *PostgresRepository) GetRestaurantByOwner(ctx context.Context, ownerID int) (*domain.Restaurant, error) {
	var rest domain.Restaurant
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, owner_id, table_count, created_at
		FROM restaurants WHERE owner_id = $1`, ownerID).
		Scan(&rest.ID, &rest.Name, &rest.OwnerID, &rest.TableCount, &rest.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "restaurant for owner", ownerID)
	}
	return &rest, nil
}

func (r *PostgresRepository) LockRestaurant(ctx context.Context, id int) error {
	var locked int
	err := r.q.QueryRowContext(ctx, "SELECT id FROM restaurants WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	return mapErr(err, "restaurant", id)
}

func (r *PostgresRepository) UpdateRestaurant(ctx context.Context, rest *domain.Restaurant) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE restaurants SET name = $1, table_count = $2 WHERE id = $3",
		rest.Name, rest.TableCount, rest.ID)
	if err != nil {
		return mapErr(err, "restaurant", rest.ID)
	}
	return expectRow(res, "restaurant", rest.ID)
}

// tables

func (r *PostgresRepository) CountTables(ctx context.Context, restaurantID int) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM restaurant_tables WHERE restaurant_id = $1", restaurantID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) CreateTable(ctx context.Context, table *domain.Table) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO restaurant_tables (restaurant_id, table_num, qr_code)
		VALUES ($1, $2, $3)
		RETURNING id`,
		table.RestaurantID, table.TableNum, table.QRCode).Scan(&table.ID)
	return mapErr(err, "table", table.TableNum)
}

func (r *PostgresRepository) DeleteTablesAbove(ctx context.Context, restaurantID, tableNum int) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		"DELETE FROM restaurant_tables WHERE restaurant_id = $1 AND table_num > $2",
		restaurantID, tableNum)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) ListTables(ctx context.Context, restaurantID int) ([]domain.Table, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, restaurant_id, table_num, qr_code
		FROM restaurant_tables
		WHERE restaurant_id = $1
		ORDER BY table_num`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []domain.Table{}
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.RestaurantID, &t.TableNum, &t.QRCode); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (r *PostgresRepository) GetTable(ctx context.Context, id int) (*domain.Table, error) {
	var t domain.Table
	err := r.q.QueryRowContext(ctx,
		"SELECT id, restaurant_id, table_num, qr_code FROM restaurant_tables WHERE id = $1", id).
		Scan(&t.ID, &t.RestaurantID, &t.TableNum, &t.QRCode)
	if err != nil {
		return nil, mapErr(err, "table", id)
	}
	return &t, nil
}

func (r *PostgresRepository) GetTableByNum(ctx context.Context, restaurantID, tableNum int) (*domain.Table, error) {
	var t domain.Table
	err := r.q.QueryRowContext(ctx, `
		SELECT id, restaurant_id, table_num, qr_code
		FROM restaurant_tables
		WHERE restaurant_id = $1 AND table_num = $2`, restaurantID, tableNum).
		Scan(&t.ID, &t.RestaurantID, &t.TableNum, &t.QRCode)
	if err != nil {
		return nil, mapErr(err, "table number", tableNum)
	}
	return &t, nil
}

func (r *PostgresRepository) SetTableQRCode(ctx context.Context, tableID int, key string) error {
	res, err := r.q.ExecContext(ctx, "UPDATE restaurant_tables SET qr_code = $1 WHERE id = $2", key, tableID)
	if err != nil {
		return err
	}
	return expectRow(res, "table", tableID)
}

// categories

func (r *PostgresRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := []domain.Category{}
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *PostgresRepository) CreateCategory(ctx context.Context, cat *domain.Category) error {
	return r.q.QueryRowContext(ctx, "INSERT INTO categories (name) VALUES ($1) RETURNING id", cat.Name).Scan(&cat.ID)
}

func (r *PostgresRepository) DeleteCategory(ctx context.Context, id int) (int64, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM categories WHERE id = $1", id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// menu items

const menuItemSelect = `
	SELECT m.id, m.restaurant_id, m.category_id, COALESCE(c.name, ''), m.name, m.price, m.image
	FROM menu_items m
	LEFT JOIN categories c ON c.id = m.category_id`

func scanMenuItem(row interface{ Scan(...any) error }) (*domain.MenuItem, error) {
	var (
		it  domain.MenuItem
		cat sql.NullInt64
	)
	if err := row.Scan(&it.ID, &it.RestaurantID, &cat, &it.CategoryName, &it.Name, &it.Price, &it.Image); err != nil {
		return nil, err
	}
	if cat.Valid {
		v := int(cat.Int64)
		it.CategoryID = &v
	}
	return &it, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func (r *PostgresRepository) CreateMenuItem(ctx context.Context, item *domain.MenuItem) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO menu_items (restaurant_id, category_id, name, price, image)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		item.RestaurantID, nullableInt(item.CategoryID), item.Name, item.Price, item.Image).
		Scan(&item.ID)
	return mapErr(err, "menu item", item.Name)
}

func (r *PostgresRepository) GetMenuItem(ctx context.Context, restaurantID, id int) (*domain.MenuItem, error) {
	it, err := scanMenuItem(r.q.QueryRowContext(ctx,
		menuItemSelect+" WHERE m.id = $1 AND m.restaurant_id = $2", id, restaurantID))
	if err != nil {
		return nil, mapErr(err, "menu item", id)
	}
	return it, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *PostgresRepository) ListMenuItems(ctx context.Context, filter service.MenuFilter) ([]domain.MenuItem, error) {
	query := menuItemSelect + " WHERE m.restaurant_id = $1"
	args := []any{filter.RestaurantID}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		query += fmt.Sprintf(" AND m.category_id = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+likeEscaper.Replace(filter.Search)+"%")
		query += fmt.Sprintf(" AND (m.name ILIKE $%d OR c.name ILIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY m.name, m.id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.MenuItem{}
	for rows.Next() {
		it, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) UpdateMenuItem(ctx context.Context, item *domain.MenuItem) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE menu_items
		SET name = $1, price = $2, category_id = $3
		WHERE id = $4 AND restaurant_id = $5`,
		item.Name, item.Price, nullableInt(item.CategoryID), item.ID, item.RestaurantID)
	if err != nil {
		return mapErr(err, "menu item", item.ID)
	}
	return expectRow(res, "menu item", item.ID)
}

func (r *PostgresRepository) DeleteMenuItem(ctx context.Context, restaurantID, id int) (int64, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM menu_items WHERE id = $1 AND restaurant_id = $2", id, restaurantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) UpdateMenuItemImage(ctx context.Context, restaurantID, id int, key string) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE menu_items SET image = $1 WHERE id = $2 AND restaurant_id = $3", key, id, restaurantID)
	if err != nil {
		return err
	}
	return expectRow(res, "menu item", id)
}

// orders

const orderSelect = `
	SELECT o.id, o.restaurant_id, o.table_id, t.table_num, o.is_finished, o.cost, o.order_time
	FROM orders o
	JOIN restaurant_tables t ON t.id = o.table_id`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.ID, &o.RestaurantID, &o.TableID, &o.TableNum, &o.IsFinished, &o.Cost, &o.OrderTime); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO orders (restaurant_id, table_id, is_finished, cost, order_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		order.RestaurantID, order.TableID, order.IsFinished, order.Cost, order.OrderTime).
		Scan(&order.ID)
	return mapErr(err, "order for table", order.TableID)
}

func (r *PostgresRepository) CreateOrderItem(ctx context.Context, item *domain.OrderItem) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO order_items (order_id, item_id, quantity, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		item.OrderID, item.MenuItemID, item.Quantity, item.Price).
		Scan(&item.ID)
	return mapErr(err, "order item", item.MenuItemID)
}

func (r *PostgresRepository) GetOrder(ctx context.Context, id int) (*domain.Order, error) {
	o, err := scanOrder(r.q.QueryRowContext(ctx, orderSelect+" WHERE o.id = $1", id))
	if err != nil {
		return nil, mapErr(err, "order", id)
	}
	return o, nil
}

func (r *PostgresRepository) ListOrderItems(ctx context.Context, orderID int) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.item_id, m.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN menu_items m ON m.id = oi.item_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.ItemName, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PostgresRepository) ListOrders(ctx context.Context, filter service.OrderFilter) ([]domain.Order, error) {
	query := orderSelect + " WHERE o.restaurant_id = $1"
	args := []any{filter.RestaurantID}
	if filter.TableSearch != "" {
		args = append(args, "%"+likeEscaper.Replace(filter.TableSearch)+"%")
		query += fmt.Sprintf(" AND CAST(t.table_num AS TEXT) LIKE $%d", len(args))
	}
	switch filter.Status {
	case domain.StatusPending:
		query += " AND o.is_finished = FALSE"
	case domain.StatusFinished:
		query += " AND o.is_finished = TRUE"
	}
	query += " ORDER BY o.order_time DESC, o.id DESC"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *PostgresRepository) MarkOrderFinished(ctx context.Context, id int) error {
	res, err := r.q.ExecContext(ctx, "UPDATE orders SET is_finished = TRUE WHERE id = $1", id)
	if err != nil {
		return err
	}
	return expectRow(res, "order", id)
}

func (r *PostgresRepository) DeleteOrder(ctx context.Context, id int) (int64, error) {
	res, err := r.q.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectRow(res sql.Result, what string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", what, id, service.ErrNotFound)
	}
	return nil
}
