package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tabletap/internal/domain"
	"tabletap/internal/service"
)

const maxUploadSize = 10 << 20

type Handler struct {
	Identity service.IdentityServiceInterface
	Tables   service.TableServiceInterface
	Catalog  service.CatalogServiceInterface
	Orders   service.OrderServiceInterface
	Logger   *zap.Logger
}

func NewHandler(
	identity service.IdentityServiceInterface,
	tables service.TableServiceInterface,
	catalog service.CatalogServiceInterface,
	orders service.OrderServiceInterface,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Identity: identity,
		Tables:   tables,
		Catalog:  catalog,
		Orders:   orders,
		Logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.healthCheck).Methods("GET")

	r.HandleFunc("/api/signup", h.signup).Methods("POST")
	r.HandleFunc("/api/login", h.login).Methods("POST")
	r.HandleFunc("/api/menu", h.publicMenu).Methods("GET")
	r.HandleFunc("/api/categories", h.listCategories).Methods("GET")
	r.HandleFunc("/api/orders", h.submitOrder).Methods("POST")
	r.HandleFunc("/api/orders/{id:[0-9]+}/summary", h.orderSummary).Methods("GET")
	r.HandleFunc("/api/restaurants/{restaurantId:[0-9]+}/tables/{tableNum:[0-9]+}/qrcode", h.tableQRCode).Methods("GET")
	r.HandleFunc("/media/{key:.+}", h.mediaFile).Methods("GET")

	auth := r.NewRoute().Subrouter()
	auth.Use(h.requireAuth)

	auth.HandleFunc("/api/restaurant", h.getRestaurant).Methods("GET")
	auth.HandleFunc("/api/restaurant", h.registerRestaurant).Methods("POST")
	auth.HandleFunc("/api/restaurant", h.updateRestaurant).Methods("PUT")
	auth.HandleFunc("/api/restaurant/tables", h.listTables).Methods("GET")
	auth.HandleFunc("/api/restaurants/{restaurantId:[0-9]+}/tables", h.reconcileTables).Methods("PUT")
	auth.HandleFunc("/api/restaurant/staff", h.assignStaff).Methods("POST")
	auth.HandleFunc("/api/restaurant/staff-menu", h.staffMenu).Methods("GET")
	auth.HandleFunc("/api/restaurant/orders", h.listOrders).Methods("GET")
	auth.HandleFunc("/api/restaurant/orders/{id:[0-9]+}/finish", h.finishOrder).Methods("POST")
	auth.HandleFunc("/api/restaurant/orders/{id:[0-9]+}", h.deleteOrder).Methods("DELETE")
	auth.HandleFunc("/api/restaurant/board", h.board).Methods("GET")

	auth.HandleFunc("/api/menuitems", h.listMenuItems).Methods("GET")
	auth.HandleFunc("/api/menuitems", h.createMenuItem).Methods("POST")
	auth.HandleFunc("/api/menuitems/{id:[0-9]+}", h.getMenuItem).Methods("GET")
	auth.HandleFunc("/api/menuitems/{id:[0-9]+}", h.updateMenuItem).Methods("PUT")
	auth.HandleFunc("/api/menuitems/{id:[0-9]+}", h.deleteMenuItem).Methods("DELETE")
	auth.HandleFunc("/api/menuitems/{id:[0-9]+}/image", h.uploadMenuItemImage).Methods("POST")

	auth.HandleFunc("/api/categories", h.createCategory).Methods("POST")
	auth.HandleFunc("/api/categories/{id:[0-9]+}", h.deleteCategory).Methods("DELETE")
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "tabletap",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("body", "invalid JSON: "+err.Error())
	}
	return nil
}

// pathInt reads a numeric mux variable. Route patterns already restrict the
// value to digits, so only overflow can fail here.
func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}
	return v, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, badRequest(name, "this field is required")
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, badRequest(name, "must be a positive integer")
	}
	return v, nil
}

func (h *Handler) identity(r *http.Request) domain.Identity {
	ident, _ := IdentityFrom(r.Context())
	return ident
}

// identity

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var in service.SignupInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.Identity.Signup(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, err := h.Identity.Login(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) assignStaff(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.Identity.AssignStaff(r.Context(), h.identity(r), in.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// restaurant and tables

func (h *Handler) getRestaurant(w http.ResponseWriter, r *http.Request) {
	rest, err := h.Catalog.RestaurantForOwner(r.Context(), h.identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rest)
}

func (h *Handler) registerRestaurant(w http.ResponseWriter, r *http.Request) {
	var in service.RestaurantInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	rest, err := h.Tables.RegisterRestaurant(r.Context(), h.identity(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rest)
}

func (h *Handler) updateRestaurant(w http.ResponseWriter, r *http.Request) {
	var in service.RestaurantInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	rest, err := h.Tables.UpdateRestaurant(r.Context(), h.identity(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rest)
}

func (h *Handler) reconcileTables(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := pathInt(r, "restaurantId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in struct {
		TableCount *int `json:"table_count"`
	}
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.TableCount == nil {
		h.writeError(w, r, badRequest("table_count", "this field is required"))
		return
	}
	rest, err := h.Tables.Reconcile(r.Context(), h.identity(r), restaurantID, *in.TableCount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rest)
}

func (h *Handler) listTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.Tables.ListTables(r.Context(), h.identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (h *Handler) tableQRCode(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := pathInt(r, "restaurantId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tableNum, err := pathInt(r, "tableNum")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	png, err := h.Tables.QRCode(r.Context(), restaurantID, tableNum)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// menus

func (h *Handler) publicMenu(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := queryInt(r, "restaurant")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tableNum, err := queryInt(r, "table")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	menu, err := h.Catalog.PublicMenu(r.Context(), restaurantID, tableNum)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, menu)
}

func (h *Handler) staffMenu(w http.ResponseWriter, r *http.Request) {
	menu, err := h.Catalog.StaffMenu(r.Context(), h.identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, menu)
}

func (h *Handler) mediaFile(w http.ResponseWriter, r *http.Request) {
	data, err := h.Catalog.MenuImage(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// categories

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Catalog.ListCategories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var in service.CategoryInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	cat, err := h.Catalog.CreateCategory(r.Context(), h.identity(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Catalog.DeleteCategory(r.Context(), h.identity(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// menu items

func (h *Handler) listMenuItems(w http.ResponseWriter, r *http.Request) {
	var categoryID *int
	if raw := r.URL.Query().Get("category"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, badRequest("category", "must be an integer"))
			return
		}
		categoryID = &id
	}
	items, err := h.Catalog.ListMenuItems(r.Context(), h.identity(r), categoryID, r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) getMenuItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.Catalog.GetMenuItem(r.Context(), h.identity(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) createMenuItem(w http.ResponseWriter, r *http.Request) {
	var in service.MenuItemInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.Catalog.CreateMenuItem(r.Context(), h.identity(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) updateMenuItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in service.MenuItemInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.Catalog.UpdateMenuItem(r.Context(), h.identity(r), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) deleteMenuItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Catalog.DeleteMenuItem(r.Context(), h.identity(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) uploadMenuItemImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.writeError(w, r, badRequest("image", "file too large or malformed form"))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		h.writeError(w, r, badRequest("image", "this field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, badRequest("image", "could not read upload"))
		return
	}
	item, err := h.Catalog.UploadMenuItemImage(r.Context(), h.identity(r), id, header.Filename, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// orders

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var in service.SubmitInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.Orders.Submit(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) orderSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.Orders.Summary(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.Orders.ListOrders(r.Context(), h.identity(r), service.OrderFilter{
		TableSearch: q.Get("table"),
		Status:      domain.OrderStatus(q.Get("status")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) finishOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.Orders.Finish(r.Context(), h.identity(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Orders.Delete(r.Context(), h.identity(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Orders.Board(r.Context(), h.identity(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
