package utils_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"matchbook/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	var (
		tb   tomb.Tomb
		mu   sync.Mutex
		seen = make(map[int]bool)
		wg   sync.WaitGroup
	)
	pool := utils.NewWorkerPool(3, 10)
	pool.Setup(&tb, func(t *tomb.Tomb, task any) error {
		mu.Lock()
		seen[task.(int)] = true
		mu.Unlock()
		wg.Done()
		return nil
	})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.True(t, pool.AddTask(&tb, i))
	}
	wg.Wait()

	tb.Kill(nil)
	require.NoError(t, tb.Wait())
	assert.Len(t, seen, 20)
}

func TestWorkerPool_ErrorKillsTomb(t *testing.T) {
	var tb tomb.Tomb
	errBoom := errors.New("boom")
	pool := utils.NewWorkerPool(2, 0)
	pool.Setup(&tb, func(t *tomb.Tomb, task any) error {
		return errBoom
	})

	require.True(t, pool.AddTask(&tb, struct{}{}))

	select {
	case <-tb.Dead():
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
	assert.ErrorIs(t, tb.Err(), errBoom)
}

func TestWorkerPool_AddTaskGivesUpWhenDying(t *testing.T) {
	var tb tomb.Tomb
	pool := utils.NewWorkerPool(1, 1)

	require.True(t, pool.AddTask(&tb, 1))
	tb.Kill(nil)

	assert.False(t, pool.AddTask(&tb, 2))
}
