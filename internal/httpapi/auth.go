package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/John-Robertt/mergesub/internal/model"
)

const authRealm = `Basic realm="Node"`

// requireAuth enforces HTTP Basic auth when credentials are configured.
func (h handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if !h.opt.Config.AuthEnabled() {
		return next
	}
	user := []byte(h.opt.Config.Username)
	pass := []byte(h.opt.Config.Password)

	return func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		// Both comparisons always run.
		userOK := subtle.ConstantTimeCompare([]byte(u), user)
		passOK := subtle.ConstantTimeCompare([]byte(p), pass)
		if !ok || userOK&passOK != 1 {
			w.Header().Set("WWW-Authenticate", authRealm)
			WriteError(w, http.StatusUnauthorized, model.AppError{
				Code:    "UNAUTHORIZED",
				Message: "认证失败",
				Stage:   "auth",
			})
			return
		}
		next(w, r)
	}
}
