// Command idlstored is a thin CLI shell over internal/backend: it wires
// config, logging, and tracing, then dispatches to one façade operation
// per invocation. It carries no schema layer of its own, so the entries
// it indexes are a single opaque "value" attribute taken from the whole
// payload -- a stand-in an embedding caller is expected to replace with
// its own EntryMatcher/AttrValueFunc.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dirserve/idlstore/internal/audit"
	"github.com/dirserve/idlstore/internal/backend"
	"github.com/dirserve/idlstore/internal/config"
	"github.com/dirserve/idlstore/internal/kv"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openBackend(ctx context.Context, cfgPath string, log *zap.Logger) (*backend.Backend, func() error, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	pool, err := kv.New(ctx, cfg.DBPath, cfg.PoolSize, log)
	if err != nil {
		return nil, nil, err
	}

	tracer, shutdown, err := audit.NewStdout()
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	b, err := backend.New(backend.Config{
		Pool:      pool,
		Meta:      cfg.Indexes,
		Match:     valueMatcher,
		AttrValue: valueAttrFunc,
		Tracer:    tracer,
		Log:       log,
	})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	closeFn := func() error {
		_ = shutdown(ctx)
		return pool.Close()
	}
	return b, closeFn, nil
}
