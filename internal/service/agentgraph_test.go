package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/PostForge/internal/service"
)

func TestAgentGraph_ConcurrentEnsureInitializesOnce(t *testing.T) {
	init := &fakeGraph{delay: 20 * time.Millisecond}
	g := service.NewAgentGraph(init)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Ensure(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, init.Calls())
	assert.True(t, g.Ready())
}

func TestAgentGraph_FailureIsRetried(t *testing.T) {
	init := &fakeGraph{err: errors.New("proxy down")}
	g := service.NewAgentGraph(init)

	require.Error(t, g.Ensure(context.Background()))
	assert.False(t, g.Ready())

	init.mu.Lock()
	init.err = nil
	init.mu.Unlock()

	require.NoError(t, g.Ensure(context.Background()))
	require.NoError(t, g.Ensure(context.Background()))
	assert.Equal(t, 2, init.Calls())
}

func TestAgentGraph_NilInitializerIsReady(t *testing.T) {
	g := service.NewAgentGraph(nil)
	assert.True(t, g.Ready())
	assert.NoError(t, g.Ensure(context.Background()))
}
