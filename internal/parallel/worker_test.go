package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunKeepsInputOrder(t *testing.T) {
	wp := NewWorkerPool(2)
	tasks := make([]func(context.Context) (int, error), 5)
	for i := range tasks {
		n := i
		tasks[n] = func(context.Context) (int, error) {
			time.Sleep(time.Duration(5-n) * time.Millisecond)
			return n * 10, nil
		}
	}

	results, err := Run(context.Background(), wp, tasks)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 20, 30, 40}, results)
}

func TestRunFirstErrorWins(t *testing.T) {
	wp := NewWorkerPool(1)
	boom := errors.New("boom")
	var ran atomic.Int32

	tasks := []func(context.Context) (int, error){
		func(context.Context) (int, error) { return 0, boom },
		func(context.Context) (int, error) { ran.Add(1); return 1, nil },
	}

	_, err := Run(context.Background(), wp, tasks)
	assert.ErrorIs(t, err, boom)
	// A single worker stops after the failure; the second task never runs.
	assert.Equal(t, int32(0), ran.Load())
}

func TestRunCancelledContext(t *testing.T) {
	wp := NewWorkerPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []func(context.Context) (int, error){
		func(context.Context) (int, error) { return 1, nil },
	}
	_, err := Run(ctx, wp, tasks)
	assert.Error(t, err)
}

func TestRunEmpty(t *testing.T) {
	wp := NewWorkerPool(0)
	results, err := Run[int](context.Background(), wp, nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}
