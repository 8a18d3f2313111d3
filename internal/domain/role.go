package domain

type Role string

const (
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
	RoleStaff Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOwner, RoleStaff:
		return true
	}
	return false
}

type Action int

const (
	ActionRegisterRestaurant Action = iota
	ActionManageRestaurant
	ActionManageMenu
	ActionViewOrders
	ActionFinishOrder
	ActionDeleteOrder
	ActionManageCategories
)

var permissions = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionManageCategories: true,
	},
	RoleOwner: {
		ActionRegisterRestaurant: true,
		ActionManageRestaurant:   true,
		ActionManageMenu:         true,
		ActionViewOrders:         true,
		ActionFinishOrder:        true,
		ActionDeleteOrder:        true,
	},
	RoleStaff: {
		ActionViewOrders:  true,
		ActionFinishOrder: true,
	},
}

// Can reports whether the role is allowed to attempt the action at all.
// Restaurant scoping is checked separately against the Identity.
func (r Role) Can(a Action) bool {
	return permissions[r][a]
}

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	UserID       int  `json:"user_id"`
	Role         Role `json:"role"`
	RestaurantID *int `json:"restaurant_id,omitempty"`
}

// WorksAt reports whether a staff identity is attached to the restaurant.
func (i Identity) WorksAt(restaurantID int) bool {
	return i.Role == RoleStaff && i.RestaurantID != nil && *i.RestaurantID == restaurantID
}
