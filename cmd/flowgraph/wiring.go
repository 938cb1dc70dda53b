package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/flowgraph/internal/binding"
	"github.com/rendis/flowgraph/internal/codec"
	"github.com/rendis/flowgraph/internal/editor"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/internal/metrics"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/internal/session"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

// app bundles the long-lived components shared by serve and mcp.
type app struct {
	store     *store.LibSQLStore
	codec     *codec.Codec
	exprs     *expressions.Set
	metrics   *metrics.Metrics
	hub       *streaming.MemoryHub
	projector *projector.Projector
	binder    *binding.Binder
	sessions  *session.Manager
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	cd, err := codec.New()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	exprs, err := expressions.NewSet()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	m := metrics.New(true)
	hub := streaming.NewMemoryHub()
	proj := projector.New(
		projector.WithResolver(storeResolver(st)),
		projector.WithAppender(st),
		projector.WithPublisher(hub),
		projector.WithMetrics(m),
		projector.WithLogger(logger.With(slog.String("component", "projector"))),
		projector.WithInboxSize(cfg.InboxSize),
	)
	binder := binding.New(cd.Schemas(), exprs,
		binding.WithWorkflowExists(workflowExists(st)),
		binding.WithLogger(logger))
	sessions := session.NewManager(st,
		session.WithBinder(binder),
		session.WithInstanceBinder(proj),
		session.WithLogger(logger.With(slog.String("component", "sessions"))),
		session.WithEditorOptions(
			editor.WithMaxInstances(schema.NodeKindEnd, cfg.maxEndNodes()),
			editor.WithPublisher(hub),
			editor.WithMetrics(m),
			editor.WithLogger(logger.With(slog.String("component", "editor"))),
		))

	return &app{
		store:     st,
		codec:     cd,
		exprs:     exprs,
		metrics:   m,
		hub:       hub,
		projector: proj,
		binder:    binder,
		sessions:  sessions,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// storeResolver answers node membership for instances the projector has not
// bound yet from the graph frozen in the instance record. Unknown instances
// are not resolved and get tracked without node checks.
func storeResolver(st store.Store) projector.Resolver {
	return func(ctx context.Context, instanceID string) (string, graph.NodeLookup, bool) {
		inst, err := st.GetInstance(ctx, instanceID)
		if err != nil || inst.Document == nil {
			return "", nil, false
		}
		g, err := graph.FromDocument(inst.Document)
		if err != nil {
			return "", nil, false
		}
		return inst.WorkflowID, graph.Freeze(g, inst.Revision), true
	}
}

func workflowExists(st store.Store) binding.WorkflowExists {
	return func(id string) bool {
		_, err := st.GetWorkflow(context.Background(), id)
		return err == nil
	}
}

// restoreInstances replays the persisted event log of every instance into
// the projector. Instances with a broken log are skipped and reported.
func restoreInstances(ctx context.Context, st *store.LibSQLStore, proj *projector.Projector, logger *slog.Logger) (int, error) {
	ids, err := st.EventInstanceIDs(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	restored := 0
	for _, id := range ids {
		events, err := st.ReplayEvents(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		applied := proj.Restore(ctx, id, events)
		if applied != len(events) {
			logger.Warn("replay rejected events",
				slog.String("instance_id", id),
				slog.Int("events", len(events)),
				slog.Int("applied", applied))
		}
		restored++
	}
	if len(errs) > 0 {
		return restored, schema.NewErrorf(schema.ErrCodeStore, "%d instance log(s) could not be replayed", len(errs)).
			WithCause(errors.Join(errs...))
	}
	return restored, nil
}
