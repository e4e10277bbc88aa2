package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/mergesub/internal/admin"
	"github.com/John-Robertt/mergesub/internal/fetch"
	"github.com/John-Robertt/mergesub/internal/model"
	"github.com/John-Robertt/mergesub/internal/store"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func requestError(code, message, hint string) error {
	return apiError(http.StatusBadRequest, model.AppError{
		Code:    code,
		Message: message,
		Stage:   "validate_request",
		Hint:    hint,
	}, nil)
}

var errInternal = model.AppError{
	Code:    "INTERNAL_ERROR",
	Message: "服务端内部错误",
	Stage:   "internal",
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var ae *APIError
	if errors.As(err, &ae) {
		WriteError(w, ae.Status, ae.AppError)
		return
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		WriteError(w, fe.Status, fe.AppError)
		return
	}

	switch {
	case errors.Is(err, admin.ErrEmptyInput):
		WriteError(w, http.StatusBadRequest, model.AppError{
			Code:    "INVALID_ARGUMENT",
			Message: "输入不能为空",
			Stage:   "validate_request",
		})
		return
	case errors.Is(err, admin.ErrNothingAdded):
		WriteError(w, http.StatusBadRequest, model.AppError{
			Code:    "ALREADY_EXISTS",
			Message: "所有条目已存在",
			Stage:   "admin",
		})
		return
	case errors.Is(err, admin.ErrNothingDeleted):
		WriteError(w, http.StatusNotFound, model.AppError{
			Code:    "NOT_FOUND",
			Message: "未找到要删除的条目",
			Stage:   "admin",
		})
		return
	}

	// The cause stays in the log.
	var se *store.StoreError
	if errors.As(err, &se) {
		WriteError(w, http.StatusInternalServerError, se.AppError)
		return
	}

	WriteError(w, http.StatusInternalServerError, errInternal)
}
