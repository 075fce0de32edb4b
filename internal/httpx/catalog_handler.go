package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-shop-orders/internal/authz"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	if !a.Policy.Allow(actorOf(r), authz.ProductRead, authz.Resource{}) {
		forbidden(w)
		return
	}
	ps, err := a.Orders.ListProducts(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

type createProductReq struct {
	SKU        string          `json:"sku" validate:"required,max=64"`
	Name       string          `json:"name" validate:"required,max=200"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock" validate:"gte=0"`
	CategoryID string          `json:"category_id,omitempty"`
	SellerID   string          `json:"seller_id,omitempty"`
}

func (a *API) createProduct(w http.ResponseWriter, r *http.Request) {
	act := actorOf(r)
	var req createProductReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if act.Role == authz.RoleSeller {
		req.SellerID = act.ID
	}
	if !a.Policy.Allow(act, authz.ProductWrite, authz.Resource{SellerID: req.SellerID}) {
		forbidden(w)
		return
	}
	p, err := a.Orders.CreateProduct(r.Context(), orders.Product{
		SellerID:   req.SellerID,
		CategoryID: req.CategoryID,
		SKU:        req.SKU,
		Name:       req.Name,
		Price:      req.Price,
		Stock:      req.Stock,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getInventory(w http.ResponseWriter, r *http.Request) {
	if !a.Policy.Allow(actorOf(r), authz.InventoryRead, authz.Resource{}) {
		forbidden(w)
		return
	}
	l, err := a.Orders.Inventory(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type adjustReq struct {
	Delta int `json:"delta" validate:"ne=0"`
}

func (a *API) adjustInventory(w http.ResponseWriter, r *http.Request) {
	act := actorOf(r)
	if !a.Policy.Allow(act, authz.InventoryAdjust, authz.Resource{}) {
		forbidden(w)
		return
	}
	var req adjustReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	l, err := a.Orders.AdjustInventory(r.Context(), chi.URLParam(r, "productID"), req.Delta, act.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
