// Package admin edits the persisted subscription list and manual nodes.
//
// The editing functions are pure: they take a snapshot and return the new
// snapshot. Service wraps them with a load/save round trip.
package admin

import (
	"context"
	"errors"
	"strings"

	"github.com/John-Robertt/mergesub/internal/node"
	"github.com/John-Robertt/mergesub/internal/store"
)

var (
	ErrEmptyInput     = errors.New("no entries given")
	ErrNothingAdded   = errors.New("all entries already exist")
	ErrNothingDeleted = errors.New("no matching entries found")
)

// Result lists, in input order, the entries that changed the record (added or
// deleted) and those that did not (already present or not found).
type Result struct {
	Changed   []string `json:"changed"`
	Unchanged []string `json:"unchanged"`
}

// SplitInput turns newline-separated text into trimmed, non-empty entries.
func SplitInput(text string) []string {
	return node.SplitLines(text)
}

// NodeList returns the stored manual nodes one per element.
func NodeList(d store.Data) []string {
	return node.SplitLines(d.Nodes)
}

// AddSubscriptions appends every input URL not already present (exact match
// after trimming).
func AddSubscriptions(d store.Data, input []string) (store.Data, Result, error) {
	entries := trimmed(input)
	if len(entries) == 0 {
		return d, Result{}, ErrEmptyInput
	}

	out := d.Clone()
	var res Result
	for _, sub := range entries {
		if containsFunc(out.Subscriptions, sub, strings.TrimSpace) {
			res.Unchanged = append(res.Unchanged, sub)
			continue
		}
		out.Subscriptions = append(out.Subscriptions, sub)
		res.Changed = append(res.Changed, sub)
	}
	if len(res.Changed) == 0 {
		return d, res, ErrNothingAdded
	}
	return out, res, nil
}

// DeleteSubscriptions removes the first subscription matching each input
// (exact match after trimming).
func DeleteSubscriptions(d store.Data, input []string) (store.Data, Result, error) {
	entries := trimmed(input)
	if len(entries) == 0 {
		return d, Result{}, ErrEmptyInput
	}

	out := d.Clone()
	var res Result
	for _, target := range entries {
		i := indexFunc(out.Subscriptions, target, strings.TrimSpace)
		if i < 0 {
			res.Unchanged = append(res.Unchanged, target)
			continue
		}
		out.Subscriptions = append(out.Subscriptions[:i], out.Subscriptions[i+1:]...)
		res.Changed = append(res.Changed, target)
	}
	if len(res.Changed) == 0 {
		return d, res, ErrNothingDeleted
	}
	return out, res, nil
}

// AddNodes appends the input links, unwrapping base64-wrapped ones first so
// the stored text stays readable. Exact duplicates are skipped.
func AddNodes(d store.Data, input []string) (store.Data, Result, error) {
	entries := trimmed(input)
	if len(entries) == 0 {
		return d, Result{}, ErrEmptyInput
	}

	list := NodeList(d)
	var res Result
	for _, n := range entries {
		n = node.TryDecodeBase64(n)
		if containsFunc(list, n, nil) {
			res.Unchanged = append(res.Unchanged, n)
			continue
		}
		list = append(list, n)
		res.Changed = append(res.Changed, n)
	}
	if len(res.Changed) == 0 {
		return d, res, ErrNothingAdded
	}
	out := d.Clone()
	out.Nodes = strings.Join(list, "\n")
	return out, res, nil
}

// DeleteNodes removes the first node matching each input, compared after
// node.CleanNodeString. Remaining lines are kept as stored.
func DeleteNodes(d store.Data, input []string) (store.Data, Result, error) {
	entries := cleaned(input)
	if len(entries) == 0 {
		return d, Result{}, ErrEmptyInput
	}

	list := NodeList(d)
	var res Result
	for _, target := range entries {
		i := indexFunc(list, target, node.CleanNodeString)
		if i < 0 {
			res.Unchanged = append(res.Unchanged, target)
			continue
		}
		list = append(list[:i], list[i+1:]...)
		res.Changed = append(res.Changed, target)
	}
	if len(res.Changed) == 0 {
		return d, res, ErrNothingDeleted
	}
	out := d.Clone()
	out.Nodes = strings.Join(list, "\n")
	return out, res, nil
}

// Service applies edits to a Store. Concurrent edits are last-write-wins.
type Service struct {
	Store store.Store
}

type editFunc func(store.Data, []string) (store.Data, Result, error)

func (s *Service) AddSubscriptions(ctx context.Context, input []string) (Result, error) {
	return s.apply(ctx, input, AddSubscriptions)
}

func (s *Service) DeleteSubscriptions(ctx context.Context, input []string) (Result, error) {
	return s.apply(ctx, input, DeleteSubscriptions)
}

func (s *Service) AddNodes(ctx context.Context, input []string) (Result, error) {
	return s.apply(ctx, input, AddNodes)
}

func (s *Service) DeleteNodes(ctx context.Context, input []string) (Result, error) {
	return s.apply(ctx, input, DeleteNodes)
}

func (s *Service) apply(ctx context.Context, input []string, edit editFunc) (Result, error) {
	d, err := s.Store.Load(ctx)
	if err != nil {
		return Result{}, err
	}
	next, res, err := edit(d, input)
	if err != nil {
		return res, err
	}
	if err := s.Store.Save(ctx, next); err != nil {
		return Result{}, err
	}
	return res, nil
}

func trimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		// Multi-line entries are accepted as well.
		out = append(out, node.SplitLines(s)...)
	}
	return out
}

func cleaned(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range trimmed(in) {
		if c := node.CleanNodeString(s); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func indexFunc(list []string, target string, norm func(string) string) int {
	for i, s := range list {
		if norm != nil {
			s = norm(s)
		}
		if s == target {
			return i
		}
	}
	return -1
}

func containsFunc(list []string, target string, norm func(string) string) bool {
	return indexFunc(list, target, norm) >= 0
}
