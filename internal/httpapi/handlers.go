package httpapi

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"
)

type handler struct {
	opt   Options
	admin adminHandler
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}

// handleSub serves the merged subscription under the configured token.
// Source failures never fail the request; only a store read error does.
func (h handler) handleSub(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.opt.Token)) != 1 {
		http.NotFound(w, r)
		return
	}

	relay := h.opt.Config.Relay(r.URL.Query())
	body, err := h.opt.Pipeline.Produce(r.Context(), h.opt.Store, relay)
	if err != nil {
		h.opt.Logger.Error("merge failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, errInternal)
		return
	}
	WriteText(w, http.StatusOK, body)
}

func (h handler) handleSubToken(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"token": h.opt.Token})
}

func (h handler) handleAPIURL(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"ApiUrl": h.opt.Config.APIURL})
}
