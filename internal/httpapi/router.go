package httpapi

import "net/http"

func NewMux(opt Options) *http.ServeMux {
	opt = opt.withDefaults()
	h := handler{opt: opt, admin: newAdminHandler(opt)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /metrics", handleMetrics)
	mux.HandleFunc("GET /{token}", h.handleSub)

	mux.HandleFunc("GET /admin/data", h.requireAuth(h.admin.handleData))
	mux.HandleFunc("GET /get-sub-token", h.requireAuth(h.handleSubToken))
	mux.HandleFunc("GET /get-apiurl", h.requireAuth(h.handleAPIURL))

	mux.HandleFunc("POST /api/add-subscriptions", h.requireAuth(h.admin.handleAddSubscriptions))
	mux.HandleFunc("DELETE /api/delete-subscriptions", h.requireAuth(h.admin.handleDeleteSubscriptions))
	mux.HandleFunc("POST /api/add-nodes", h.requireAuth(h.admin.handleAddNodes))
	mux.HandleFunc("DELETE /api/delete-nodes", h.requireAuth(h.admin.handleDeleteNodes))

	// Legacy admin-page paths.
	mux.HandleFunc("POST /admin/add-subscription", h.requireAuth(h.admin.handleAddSubscriptions))
	mux.HandleFunc("POST /admin/delete-subscription", h.requireAuth(h.admin.handleDeleteSubscriptions))
	mux.HandleFunc("POST /admin/add-node", h.requireAuth(h.admin.handleAddNodes))
	mux.HandleFunc("POST /admin/delete-node", h.requireAuth(h.admin.handleDeleteNodes))
	return mux
}
