// Package store persists the subscription list and manual nodes as one record.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/John-Robertt/mergesub/internal/model"
)

// DefaultToken is served when no token is configured and none can be stored.
const DefaultToken = "merge-sub-default-token"

// Data is the single persisted record. Nodes is newline-joined link text.
type Data struct {
	Subscriptions []string `json:"subscriptions"`
	Nodes         string   `json:"nodes"`
}

// Store reads and replaces the whole record. Writers are last-write-wins.
type Store interface {
	Load(ctx context.Context) (Data, error)
	Save(ctx context.Context, d Data) error
}

// TokenStore keeps the generated subscription token.
type TokenStore interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
}

type StoreError struct {
	AppError model.AppError
	Cause    error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func storeError(op string, cause error) error {
	return &StoreError{
		AppError: model.AppError{
			Code:    "STORE_FAILED",
			Message: "存储读写失败",
			Stage:   "store_" + op,
		},
		Cause: cause,
	}
}

// ResolveToken picks the subscription token: the configured one, else the
// stored one, else a freshly generated token that is saved back. When the
// token store fails, DefaultToken is returned together with the error.
func ResolveToken(ctx context.Context, configured string, ts TokenStore) (string, error) {
	if t := strings.TrimSpace(configured); t != "" {
		return t, nil
	}
	if ts == nil {
		return DefaultToken, nil
	}
	t, err := ts.LoadToken(ctx)
	if err != nil {
		return DefaultToken, err
	}
	if t != "" {
		return t, nil
	}
	t = GenerateToken()
	if err := ts.SaveToken(ctx, t); err != nil {
		return DefaultToken, err
	}
	return t, nil
}

// GenerateToken returns 20 random lowercase hex characters.
func GenerateToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// decodeData is lenient about field types: a record written by another tool
// with a non-array subscriptions or non-string nodes field yields zero values
// for that field instead of an error.
func decodeData(b []byte) (Data, error) {
	var raw struct {
		Subscriptions json.RawMessage `json:"subscriptions"`
		Nodes         json.RawMessage `json:"nodes"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return Data{}, err
	}
	var d Data
	if len(raw.Subscriptions) > 0 {
		_ = json.Unmarshal(raw.Subscriptions, &d.Subscriptions)
	}
	if len(raw.Nodes) > 0 {
		_ = json.Unmarshal(raw.Nodes, &d.Nodes)
	}
	return d.normalized(), nil
}

func (d Data) normalized() Data {
	if d.Subscriptions == nil {
		d.Subscriptions = []string{}
	}
	return d
}

// Clone returns a copy whose slice does not alias d.
func (d Data) Clone() Data {
	out := Data{Nodes: d.Nodes, Subscriptions: make([]string, len(d.Subscriptions))}
	copy(out.Subscriptions, d.Subscriptions)
	return out
}
