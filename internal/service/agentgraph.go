package service

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/PostForge/internal/port/stage"
)

// AgentGraph owns the init-once lifecycle of the shared stage graph.
// Concurrent callers share one in-flight Init; a successful Init is cached
// for the life of the process, a failed one is retried on the next call.
type AgentGraph struct {
	init  stage.GraphInitializer
	group singleflight.Group
	ready atomic.Bool
}

// NewAgentGraph wraps init. A nil initializer is always ready.
func NewAgentGraph(init stage.GraphInitializer) *AgentGraph {
	g := &AgentGraph{init: init}
	if init == nil {
		g.ready.Store(true)
	}
	return g
}

// Ensure initializes the graph unless that already succeeded.
func (g *AgentGraph) Ensure(ctx context.Context) error {
	if g.ready.Load() {
		return nil
	}
	_, err, _ := g.group.Do("init", func() (any, error) {
		if g.ready.Load() {
			return nil, nil
		}
		if err := g.init.Init(ctx); err != nil {
			return nil, err
		}
		g.ready.Store(true)
		return nil, nil
	})
	return err
}

// Ready reports whether Init has succeeded.
func (g *AgentGraph) Ready() bool {
	return g.ready.Load()
}
