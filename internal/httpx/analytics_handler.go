package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-shop-orders/internal/analytics"
	"github.com/ariefcatur/go-shop-orders/internal/authz"
)

// reportParams reads scope, range and limit from the query string. A
// seller that names no seller gets their own scope.
func (a *API) reportParams(w http.ResponseWriter, r *http.Request) (analytics.Scope, analytics.Range, int, bool) {
	if a.Reports == nil {
		writeProblem(w, http.StatusNotImplemented, "unavailable", "analytics needs the postgres store")
		return analytics.Scope{}, analytics.Range{}, 0, false
	}
	act := actorOf(r)
	q := r.URL.Query()
	sc := analytics.Scope{SellerID: q.Get("seller_id"), CategoryID: q.Get("category_id")}
	if act.Role == authz.RoleSeller && sc.SellerID == "" {
		sc.SellerID = act.ID
	}
	if !a.Policy.Allow(act, authz.AnalyticsRead, authz.Resource{SellerID: sc.SellerID}) {
		forbidden(w)
		return sc, analytics.Range{}, 0, false
	}

	var rg analytics.Range
	from, err := timeParam(q.Get("from"))
	if err != nil {
		a.writeError(w, r, err)
		return sc, rg, 0, false
	}
	to, err := timeParam(q.Get("to"))
	if err != nil {
		a.writeError(w, r, err)
		return sc, rg, 0, false
	}
	if from != nil {
		rg.From = *from
	}
	if to != nil {
		rg.To = *to
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return sc, rg, 0, false
	}
	return sc, rg, limit, true
}

func (a *API) salesSummary(w http.ResponseWriter, r *http.Request) {
	sc, rg, _, ok := a.reportParams(w, r)
	if !ok {
		return
	}
	out, err := a.Reports.Sales(r.Context(), sc, rg)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) salesByDay(w http.ResponseWriter, r *http.Request) {
	sc, rg, _, ok := a.reportParams(w, r)
	if !ok {
		return
	}
	out, err := a.Reports.SalesByDay(r.Context(), sc, rg)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) topProducts(w http.ResponseWriter, r *http.Request) {
	sc, rg, limit, ok := a.reportParams(w, r)
	if !ok {
		return
	}
	out, err := a.Reports.TopProducts(r.Context(), sc, rg, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) topCustomers(w http.ResponseWriter, r *http.Request) {
	sc, rg, limit, ok := a.reportParams(w, r)
	if !ok {
		return
	}
	out, err := a.Reports.Customers(r.Context(), sc, rg, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
