package storage

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tabletap/internal/domain"
	"tabletap/internal/service"
)

type memState struct {
	nextID      int
	users       map[int]domain.User
	restaurants map[int]domain.Restaurant
	tables      map[int]domain.Table
	categories  map[int]domain.Category
	menuItems   map[int]domain.MenuItem
	orders      map[int]domain.Order
	orderItems  map[int]domain.OrderItem
}

func newMemState() *memState {
	return &memState{
		users:       map[int]domain.User{},
		restaurants: map[int]domain.Restaurant{},
		tables:      map[int]domain.Table{},
		categories:  map[int]domain.Category{},
		menuItems:   map[int]domain.MenuItem{},
		orders:      map[int]domain.Order{},
		orderItems:  map[int]domain.OrderItem{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		nextID:      s.nextID,
		users:       maps.Clone(s.users),
		restaurants: maps.Clone(s.restaurants),
		tables:      maps.Clone(s.tables),
		categories:  maps.Clone(s.categories),
		menuItems:   maps.Clone(s.menuItems),
		orders:      maps.Clone(s.orders),
		orderItems:  maps.Clone(s.orderItems),
	}
}

func (s *memState) id() int {
	s.nextID++
	return s.nextID
}

// MemoryStore is a process-local service.Store. Transactions run one at a
// time against a copy of the data that replaces the original on commit.
type MemoryStore struct {
	mu   *sync.RWMutex
	txMu *sync.Mutex
	st   *memState
	inTx bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:   &sync.RWMutex{},
		txMu: &sync.Mutex{},
		st:   newMemState(),
	}
}

var _ service.Store = (*MemoryStore)(nil)

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx service.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	view := &MemoryStore{mu: &sync.RWMutex{}, txMu: m.txMu, st: m.st.clone(), inTx: true}
	m.mu.RUnlock()

	if err := fn(view); err != nil {
		return err
	}

	m.mu.Lock()
	m.st = view.st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) read(fn func(st *memState) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.st)
}

// write waits for any running transaction so its commit cannot discard the
// change.
func (m *MemoryStore) write(fn func(st *memState) error) error {
	if !m.inTx {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

func notFoundErr(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, service.ErrNotFound)
}

// users

func (m *MemoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	return m.write(func(st *memState) error {
		for _, u := range st.users {
			if u.Username == user.Username {
				return fmt.Errorf("user %s: %w", user.Username, service.ErrConflict)
			}
		}
		user.ID = st.id()
		if user.CreatedAt.IsZero() {
			user.CreatedAt = time.Now().UTC()
		}
		st.users[user.ID] = *user
		return nil
	})
}

func (m *MemoryStore) GetUser(ctx context.Context, id int) (*domain.User, error) {
	var out *domain.User
	err := m.read(func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return notFoundErr("user", id)
		}
		out = &u
		return nil
	})
	return out, err
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var out *domain.User
	err := m.read(func(st *memState) error {
		for _, u := range st.users {
			if u.Username == username {
				out = &u
				return nil
			}
		}
		return notFoundErr("user", username)
	})
	return out, err
}

func (m *MemoryStore) SetUserRestaurant(ctx context.Context, userID, restaurantID int) error {
	return m.write(func(st *memState) error {
		u, ok := st.users[userID]
		if !ok {
			return notFoundErr("user", userID)
		}
		if _, ok := st.restaurants[restaurantID]; !ok {
			return service.NewValidationError("restaurant_id", "references a missing row")
		}
		rid := restaurantID
		u.RestaurantID = &rid
		st.users[userID] = u
		return nil
	})
}

// restaurants

func (m *MemoryStore) CreateRestaurant(ctx context.Context, rest *domain.Restaurant) error {
	return m.write(func(st *memState) error {
		for _, r := range st.restaurants {
			if r.OwnerID == rest.OwnerID {
				return fmt.Errorf("restaurant for owner %d: %w", rest.OwnerID, service.ErrConflict)
			}
		}
		rest.ID = st.id()
		if rest.CreatedAt.IsZero() {
			rest.CreatedAt = time.Now().UTC()
		}
		st.restaurants[rest.ID] = *rest
		return nil
	})
}

func (m *MemoryStore) GetRestaurant(ctx context.Context, id int) (*domain.Restaurant, error) {
	var out *domain.Restaurant
	err := m.read(func(st *memState) error {
		r, ok := st.restaurants[id]
		if !ok {
			return notFoundErr("restaurant", id)
		}
		out = &r
		return nil
	})
	return out, err
}

func (m *MemoryStore) GetRestaurantByOwner(ctx context.Context, ownerID int) (*domain.Restaurant, error) {
	var out *domain.Restaurant
	err := m.read(func(st *memState) error {
		for _, r := range st.restaurants {
			if r.OwnerID == ownerID {
				out = &r
				return nil
			}
		}
		return notFoundErr("restaurant for owner", ownerID)
	})
	return out, err
}

// LockRestaurant only checks existence; transactions are already serialized.
func (m *MemoryStore) LockRestaurant(ctx context.Context, id int) error {
	_, err := m.GetRestaurant(ctx, id)
	return err
}

func (m *MemoryStore) UpdateRestaurant(ctx context.Context, rest *domain.Restaurant) error {
	return m.write(func(st *memState) error {
		cur, ok := st.restaurants[rest.ID]
		if !ok {
			return notFoundErr("restaurant", rest.ID)
		}
		cur.Name = rest.Name
		cur.TableCount = rest.TableCount
		st.restaurants[rest.ID] = cur
		return nil
	})
}

// tables

func (m *MemoryStore) CountTables(ctx context.Context, restaurantID int) (int, error) {
	var n int
	err := m.read(func(st *memState) error {
		for _, t := range st.tables {
			if t.RestaurantID == restaurantID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) CreateTable(ctx context.Context, table *domain.Table) error {
	return m.write(func(st *memState) error {
		if table.TableNum <= 0 {
			return service.NewValidationError("table_num", "must be greater than 0")
		}
		for _, t := range st.tables {
			if t.RestaurantID == table.RestaurantID && t.TableNum == table.TableNum {
				return fmt.Errorf("table %d: %w", table.TableNum, service.ErrConflict)
			}
		}
		table.ID = st.id()
		st.tables[table.ID] = *table
		return nil
	})
}

func (m *MemoryStore) DeleteTablesAbove(ctx context.Context, restaurantID, tableNum int) (int64, error) {
	var n int64
	err := m.write(func(st *memState) error {
		for id, t := range st.tables {
			if t.RestaurantID != restaurantID || t.TableNum <= tableNum {
				continue
			}
			delete(st.tables, id)
			n++
			for oid, o := range st.orders {
				if o.TableID == id {
					st.deleteOrder(oid)
				}
			}
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) ListTables(ctx context.Context, restaurantID int) ([]domain.Table, error) {
	tables := []domain.Table{}
	err := m.read(func(st *memState) error {
		for _, t := range st.tables {
			if t.RestaurantID == restaurantID {
				tables = append(tables, t)
			}
		}
		return nil
	})
	sort.Slice(tables, func(i, j int) bool { return tables[i].TableNum < tables[j].TableNum })
	return tables, err
}

func (m *MemoryStore) GetTable(ctx context.Context, id int) (*domain.Table, error) {
	var out *domain.Table
	err := m.read(func(st *memState) error {
		t, ok := st.tables[id]
		if !ok {
			return notFoundErr("table", id)
		}
		out = &t
		return nil
	})
	return out, err
}

func (m *MemoryStore) GetTableByNum(ctx context.Context, restaurantID, tableNum int) (*domain.Table, error) {
	var out *domain.Table
	err := m.read(func(st *memState) error {
		for _, t := range st.tables {
			if t.RestaurantID == restaurantID && t.TableNum == tableNum {
				out = &t
				return nil
			}
		}
		return notFoundErr("table number", tableNum)
	})
	return out, err
}

func (m *MemoryStore) SetTableQRCode(ctx context.Context, tableID int, key string) error {
	return m.write(func(st *memState) error {
		t, ok := st.tables[tableID]
		if !ok {
			return notFoundErr("table", tableID)
		}
		t.QRCode = key
		st.tables[tableID] = t
		return nil
	})
}

// categories

func (m *MemoryStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cats := []domain.Category{}
	err := m.read(func(st *memState) error {
		for _, c := range st.categories {
			cats = append(cats, c)
		}
		return nil
	})
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Name != cats[j].Name {
			return cats[i].Name < cats[j].Name
		}
		return cats[i].ID < cats[j].ID
	})
	return cats, err
}

func (m *MemoryStore) CreateCategory(ctx context.Context, cat *domain.Category) error {
	return m.write(func(st *memState) error {
		cat.ID = st.id()
		st.categories[cat.ID] = *cat
		return nil
	})
}

func (m *MemoryStore) DeleteCategory(ctx context.Context, id int) (int64, error) {
	var n int64
	err := m.write(func(st *memState) error {
		if _, ok := st.categories[id]; !ok {
			return nil
		}
		delete(st.categories, id)
		n = 1
		for iid, it := range st.menuItems {
			if it.CategoryID != nil && *it.CategoryID == id {
				it.CategoryID = nil
				st.menuItems[iid] = it
			}
		}
		return nil
	})
	return n, err
}

// menu items

func (st *memState) withCategory(it domain.MenuItem) domain.MenuItem {
	it.CategoryName = ""
	if it.CategoryID != nil {
		it.CategoryName = st.categories[*it.CategoryID].Name
	}
	return it
}

func (st *memState) checkCategory(id *int) error {
	if id == nil {
		return nil
	}
	if _, ok := st.categories[*id]; !ok {
		return service.NewValidationError("category_id", "references a missing row")
	}
	return nil
}

func (m *MemoryStore) CreateMenuItem(ctx context.Context, item *domain.MenuItem) error {
	return m.write(func(st *memState) error {
		if err := st.checkCategory(item.CategoryID); err != nil {
			return err
		}
		item.ID = st.id()
		st.menuItems[item.ID] = *item
		return nil
	})
}

func (m *MemoryStore) GetMenuItem(ctx context.Context, restaurantID, id int) (*domain.MenuItem, error) {
	var out *domain.MenuItem
	err := m.read(func(st *memState) error {
		it, ok := st.menuItems[id]
		if !ok || it.RestaurantID != restaurantID {
			return notFoundErr("menu item", id)
		}
		it = st.withCategory(it)
		out = &it
		return nil
	})
	return out, err
}

func (m *MemoryStore) ListMenuItems(ctx context.Context, filter service.MenuFilter) ([]domain.MenuItem, error) {
	items := []domain.MenuItem{}
	search := strings.ToLower(filter.Search)
	err := m.read(func(st *memState) error {
		for _, it := range st.menuItems {
			if it.RestaurantID != filter.RestaurantID {
				continue
			}
			if filter.CategoryID != nil && (it.CategoryID == nil || *it.CategoryID != *filter.CategoryID) {
				continue
			}
			it = st.withCategory(it)
			if search != "" &&
				!strings.Contains(strings.ToLower(it.Name), search) &&
				!strings.Contains(strings.ToLower(it.CategoryName), search) {
				continue
			}
			items = append(items, it)
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, err
}

func (m *MemoryStore) UpdateMenuItem(ctx context.Context, item *domain.MenuItem) error {
	return m.write(func(st *memState) error {
		cur, ok := st.menuItems[item.ID]
		if !ok || cur.RestaurantID != item.RestaurantID {
			return notFoundErr("menu item", item.ID)
		}
		if err := st.checkCategory(item.CategoryID); err != nil {
			return err
		}
		cur.Name = item.Name
		cur.Price = item.Price
		cur.CategoryID = item.CategoryID
		st.menuItems[item.ID] = cur
		return nil
	})
}

func (m *MemoryStore) DeleteMenuItem(ctx context.Context, restaurantID, id int) (int64, error) {
	var n int64
	err := m.write(func(st *memState) error {
		it, ok := st.menuItems[id]
		if !ok || it.RestaurantID != restaurantID {
			return nil
		}
		delete(st.menuItems, id)
		n = 1
		for oid, oi := range st.orderItems {
			if oi.MenuItemID == id {
				delete(st.orderItems, oid)
			}
		}
		return nil
	})
	return n, err
}

func (m *MemoryStore) UpdateMenuItemImage(ctx context.Context, restaurantID, id int, key string) error {
	return m.write(func(st *memState) error {
		it, ok := st.menuItems[id]
		if !ok || it.RestaurantID != restaurantID {
			return notFoundErr("menu item", id)
		}
		it.Image = key
		st.menuItems[id] = it
		return nil
	})
}

// orders

func (st *memState) withTableNum(o domain.Order) domain.Order {
	o.TableNum = st.tables[o.TableID].TableNum
	o.Items = nil
	return o
}

func (st *memState) deleteOrder(id int) {
	delete(st.orders, id)
	for iid, it := range st.orderItems {
		if it.OrderID == id {
			delete(st.orderItems, iid)
		}
	}
}

func (m *MemoryStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	return m.write(func(st *memState) error {
		if _, ok := st.tables[order.TableID]; !ok {
			return service.NewValidationError("table_id", "references a missing row")
		}
		order.ID = st.id()
		stored := *order
		stored.Items = nil
		st.orders[order.ID] = stored
		return nil
	})
}

func (m *MemoryStore) CreateOrderItem(ctx context.Context, item *domain.OrderItem) error {
	return m.write(func(st *memState) error {
		if _, ok := st.orders[item.OrderID]; !ok {
			return service.NewValidationError("order_id", "references a missing row")
		}
		if item.Quantity <= 0 {
			return service.NewValidationError("quantity", "must be greater than 0")
		}
		item.ID = st.id()
		stored := *item
		stored.ItemName = ""
		stored.Subtotal = decimal.Zero
		st.orderItems[item.ID] = stored
		return nil
	})
}

func (m *MemoryStore) GetOrder(ctx context.Context, id int) (*domain.Order, error) {
	var out *domain.Order
	err := m.read(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok {
			return notFoundErr("order", id)
		}
		o = st.withTableNum(o)
		out = &o
		return nil
	})
	return out, err
}

func (m *MemoryStore) ListOrderItems(ctx context.Context, orderID int) ([]domain.OrderItem, error) {
	items := []domain.OrderItem{}
	err := m.read(func(st *memState) error {
		for _, it := range st.orderItems {
			if it.OrderID == orderID {
				it.ItemName = st.menuItems[it.MenuItemID].Name
				items = append(items, it)
			}
		}
		return nil
	})
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, err
}

func (m *MemoryStore) ListOrders(ctx context.Context, filter service.OrderFilter) ([]domain.Order, error) {
	orders := []domain.Order{}
	err := m.read(func(st *memState) error {
		for _, o := range st.orders {
			if o.RestaurantID != filter.RestaurantID {
				continue
			}
			if filter.Status != "" && o.Status() != filter.Status {
				continue
			}
			o = st.withTableNum(o)
			if filter.TableSearch != "" && !strings.Contains(strconv.Itoa(o.TableNum), filter.TableSearch) {
				continue
			}
			orders = append(orders, o)
		}
		return nil
	})
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].OrderTime.Equal(orders[j].OrderTime) {
			return orders[i].OrderTime.After(orders[j].OrderTime)
		}
		return orders[i].ID > orders[j].ID
	})
	return orders, err
}

func (m *MemoryStore) MarkOrderFinished(ctx context.Context, id int) error {
	return m.write(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok {
			return notFoundErr("order", id)
		}
		o.IsFinished = true
		st.orders[id] = o
		return nil
	})
}

func (m *MemoryStore) DeleteOrder(ctx context.Context, id int) (int64, error) {
	var n int64
	err := m.write(func(st *memState) error {
		if _, ok := st.orders[id]; !ok {
			return nil
		}
		st.deleteOrder(id)
		n = 1
		return nil
	})
	return n, err
}
