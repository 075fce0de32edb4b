// Package authz decides what an authenticated actor may do. Every handler
// asks the same predicate so role rules live in one table.
package authz

import "context"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSeller   Role = "seller"
	RoleCustomer Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSeller, RoleCustomer:
		return true
	}
	return false
}

type Actor struct {
	ID   string
	Role Role
}

type Action string

const (
	OrderCreate     Action = "order:create"
	OrderRead       Action = "order:read"
	OrderList       Action = "order:list"
	OrderTransition Action = "order:transition"
	OrderCancel     Action = "order:cancel"
	OrderRefund     Action = "order:refund"
	OrderPay        Action = "order:pay"
	ProductRead     Action = "product:read"
	ProductWrite    Action = "product:write"
	InventoryRead   Action = "inventory:read"
	InventoryAdjust Action = "inventory:adjust"
	AnalyticsRead   Action = "analytics:read"
)

// Resource is what the action touches. OwnerID is the customer owning an
// order; SellerID is the seller a report or product is scoped to.
type Resource struct {
	OwnerID  string
	SellerID string
}

type rule func(a Actor, r Resource) bool

func always(Actor, Resource) bool { return true }

func owner(a Actor, r Resource) bool { return r.OwnerID != "" && r.OwnerID == a.ID }

func ownSeller(a Actor, r Resource) bool { return r.SellerID != "" && r.SellerID == a.ID }

// Policy maps role and action to a rule. Anything not listed is denied;
// admins are allowed everything.
type Policy struct {
	rules map[Role]map[Action]rule
}

func DefaultPolicy() *Policy {
	return &Policy{rules: map[Role]map[Action]rule{
		RoleSeller: {
			OrderRead:       always,
			OrderList:       always,
			OrderTransition: always,
			ProductRead:     always,
			ProductWrite:    always,
			InventoryRead:   always,
			InventoryAdjust: always,
			AnalyticsRead:   ownSeller,
		},
		RoleCustomer: {
			OrderCreate: always,
			// The handler narrows a customer's listing to their own orders.
			OrderList:   always,
			OrderRead:   owner,
			OrderCancel: owner,
			OrderPay:    owner,
			ProductRead: always,
		},
	}}
}

func (p *Policy) Allow(a Actor, act Action, r Resource) bool {
	if a.ID == "" || !a.Role.Valid() {
		return false
	}
	if a.Role == RoleAdmin {
		return true
	}
	fn, ok := p.rules[a.Role][act]
	return ok && fn(a, r)
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
