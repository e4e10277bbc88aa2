package httpapi

import (
	"go.uber.org/zap"

	"github.com/John-Robertt/mergesub/internal/config"
	"github.com/John-Robertt/mergesub/internal/diag"
	"github.com/John-Robertt/mergesub/internal/fetch"
	"github.com/John-Robertt/mergesub/internal/merge"
	"github.com/John-Robertt/mergesub/internal/store"
)

// Options wires the HTTP surface to its collaborators.
//
// Keep it small: the merge pipeline does the work, this layer only frames it.
type Options struct {
	Config config.Config

	// Store defaults to an empty in-memory store.
	Store store.Store

	// Token is the path segment serving the merged subscription. Defaults to
	// Config.SubToken, then store.DefaultToken.
	Token string

	// Pipeline defaults to an HTTP-fetching pipeline using
	// Config.RequestTimeout and reporting diagnostics to Logger and /metrics.
	Pipeline *merge.Pipeline

	// Logger defaults to zap.NewNop.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	o.Config = mergeDefaults(o.Config)
	if o.Store == nil {
		o.Store = store.NewMemory(store.Data{})
	}
	if o.Token == "" {
		o.Token = o.Config.SubToken
	}
	if o.Token == "" {
		o.Token = store.DefaultToken
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Pipeline == nil {
		o.Pipeline = merge.New(
			fetch.HTTPFetcher{Options: fetch.Options{Timeout: o.Config.RequestTimeout()}},
			diag.Multi(diag.NewZap(o.Logger), DiagnosticsObserver()),
		)
	}
	return o
}

// mergeDefaults fills the zero fields of a partially built Config.
func mergeDefaults(c config.Config) config.Config {
	d := config.Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.APIURL == "" {
		c.APIURL = d.APIURL
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = d.RequestTimeoutMs
	}
	return c
}
