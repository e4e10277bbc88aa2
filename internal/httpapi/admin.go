package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/mergesub/internal/admin"
)

const maxAdminBodyBytes = 1 << 20

// entryList accepts either a newline-separated string or an array of strings.
type entryList []string

func (l *entryList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = admin.SplitInput(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(b, &arr); err != nil {
		return errors.New("expected a string or an array of strings")
	}
	*l = arr
	return nil
}

type subscriptionsBody struct {
	Subscription  entryList `json:"subscription"`
	Subscriptions entryList `json:"subscriptions"`
}

func (b subscriptionsBody) entries() []string {
	return append(append([]string(nil), b.Subscription...), b.Subscriptions...)
}

type nodesBody struct {
	Node  entryList `json:"node"`
	Nodes entryList `json:"nodes"`
}

func (b nodesBody) entries() []string {
	return append(append([]string(nil), b.Node...), b.Nodes...)
}

type addResponse struct {
	Success  bool     `json:"success"`
	Added    []string `json:"added"`
	Existing []string `json:"existing"`
}

type deleteResponse struct {
	Success  bool     `json:"success"`
	Deleted  []string `json:"deleted"`
	NotFound []string `json:"notFound"`
}

type dataResponse struct {
	Subscriptions []string `json:"subscriptions"`
	Nodes         []string `json:"nodes"`
}

type adminHandler struct {
	svc    *admin.Service
	logger *zap.Logger
}

func newAdminHandler(opt Options) adminHandler {
	return adminHandler{svc: &admin.Service{Store: opt.Store}, logger: opt.Logger}
}

func (h adminHandler) handleData(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Store.Load(r.Context())
	if err != nil {
		h.fail(w, "load data", err)
		return
	}
	WriteJSON(w, http.StatusOK, dataResponse{
		Subscriptions: orEmpty(d.Subscriptions),
		Nodes:         orEmpty(admin.NodeList(d)),
	})
}

func (h adminHandler) handleAddSubscriptions(w http.ResponseWriter, r *http.Request) {
	var body subscriptionsBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	res, err := h.svc.AddSubscriptions(r.Context(), body.entries())
	if err != nil {
		h.fail(w, "add subscriptions", err)
		return
	}
	WriteJSON(w, http.StatusOK, addResponse{Success: true, Added: orEmpty(res.Changed), Existing: orEmpty(res.Unchanged)})
}

func (h adminHandler) handleDeleteSubscriptions(w http.ResponseWriter, r *http.Request) {
	var body subscriptionsBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	res, err := h.svc.DeleteSubscriptions(r.Context(), body.entries())
	if err != nil {
		h.fail(w, "delete subscriptions", err)
		return
	}
	WriteJSON(w, http.StatusOK, deleteResponse{Success: true, Deleted: orEmpty(res.Changed), NotFound: orEmpty(res.Unchanged)})
}

func (h adminHandler) handleAddNodes(w http.ResponseWriter, r *http.Request) {
	var body nodesBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	res, err := h.svc.AddNodes(r.Context(), body.entries())
	if err != nil {
		h.fail(w, "add nodes", err)
		return
	}
	WriteJSON(w, http.StatusOK, addResponse{Success: true, Added: orEmpty(res.Changed), Existing: orEmpty(res.Unchanged)})
}

func (h adminHandler) handleDeleteNodes(w http.ResponseWriter, r *http.Request) {
	var body nodesBody
	if err := decodeJSONBody(w, r, &body); err != nil {
		writeErrorFromErr(w, err)
		return
	}
	res, err := h.svc.DeleteNodes(r.Context(), body.entries())
	if err != nil {
		h.fail(w, "delete nodes", err)
		return
	}
	WriteJSON(w, http.StatusOK, deleteResponse{Success: true, Deleted: orEmpty(res.Changed), NotFound: orEmpty(res.Unchanged)})
}

// fail logs unexpected errors; admin sentinels are plain client errors.
func (h adminHandler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, admin.ErrEmptyInput) &&
		!errors.Is(err, admin.ErrNothingAdded) &&
		!errors.Is(err, admin.ErrNothingDeleted) {
		h.logger.Error("admin", zap.String("op", op), zap.Error(err))
	}
	writeErrorFromErr(w, err)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return requestError("INVALID_ARGUMENT", "仅支持 JSON body", "Content-Type: application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return requestError("INVALID_ARGUMENT", "JSON body 不允许多段", "")
	} else if !errors.Is(err, io.EOF) {
		return requestError("INVALID_ARGUMENT", "JSON body 解析失败", err.Error())
	}
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
