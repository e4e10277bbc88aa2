// Package merge combines remote subscriptions and manual nodes into one
// base64-encoded subscription document.
package merge

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/mergesub/internal/diag"
	"github.com/John-Robertt/mergesub/internal/fetch"
	"github.com/John-Robertt/mergesub/internal/model"
	"github.com/John-Robertt/mergesub/internal/node"
	"github.com/John-Robertt/mergesub/internal/store"
)

// ErrEmptySource is reported for a source that answered 2xx with no content.
var ErrEmptySource = errors.New("empty subscription body")

type Pipeline struct {
	Fetcher  fetch.Fetcher
	Observer diag.Observer
}

// New returns a Pipeline; a nil fetcher means fetch.HTTPFetcher with default options.
func New(f fetch.Fetcher, obs diag.Observer) *Pipeline {
	if f == nil {
		f = fetch.HTTPFetcher{}
	}
	return &Pipeline{Fetcher: f, Observer: diag.OrNop(obs)}
}

// Merge fetches every source concurrently and returns the base64 encoding of
//
//	<source 1>\n<source 2>\n...\n<manual nodes>
//
// Sources that fail or answer with an empty body contribute nothing; order
// follows the input. Merge never fails: every per-source or per-line problem
// is reported to the Observer.
func (p *Pipeline) Merge(ctx context.Context, sources []string, manualNodes string, relay model.RelayTarget) string {
	return base64.StdEncoding.EncodeToString([]byte(p.mergeText(ctx, sources, manualNodes, relay)))
}

// Produce reads one snapshot from st and merges it. The only error is a
// failed store read.
func (p *Pipeline) Produce(ctx context.Context, st store.Store, relay model.RelayTarget) (string, error) {
	data, err := st.Load(ctx)
	if err != nil {
		return "", err
	}
	return p.Merge(ctx, data.Subscriptions, data.Nodes, relay), nil
}

func (p *Pipeline) mergeText(ctx context.Context, sources []string, manualNodes string, relay model.RelayTarget) string {
	obs := diag.OrNop(p.Observer)

	// One slot per source; ok[i] stays false for sources that were skipped.
	results := make([]string, len(sources))
	ok := make([]bool, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i], ok[i] = p.fetchSource(ctx, src, relay, obs)
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]string, 0, len(sources))
	for i := range sources {
		if ok[i] {
			kept = append(kept, results[i])
		}
	}

	// Manual-node line events carry no source.
	nodes := node.RewriteContent(manualNodes, relay, obs)
	return strings.Join(kept, "\n") + "\n" + nodes
}

func (p *Pipeline) fetchSource(ctx context.Context, src string, relay model.RelayTarget, obs diag.Observer) (string, bool) {
	srcObs := withSource(obs, src)

	body, err := p.Fetcher.Fetch(ctx, src)
	if err != nil {
		srcObs.Observe(diag.Event{Kind: diag.KindSourceUnavailable, Err: err})
		return "", false
	}
	if strings.TrimSpace(body) == "" {
		srcObs.Observe(diag.Event{Kind: diag.KindSourceUnavailable, Err: ErrEmptySource})
		return "", false
	}

	// Plain-text bodies are common, so the raw fallback is not reported.
	text, _ := node.DecodeContent(body)
	return node.RewriteContent(text, relay, srcObs), true
}

func withSource(obs diag.Observer, src string) diag.Observer {
	return diag.ObserverFunc(func(e diag.Event) {
		if e.Source == "" {
			e.Source = src
		}
		obs.Observe(e)
	})
}
