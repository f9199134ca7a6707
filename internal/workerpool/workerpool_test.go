package workerpool_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quiverio/quiver/internal/workerpool"
)

func TestGoRunsUntilHalt(t *testing.T) {
	var w workerpool.Worker
	done := make(chan struct{})
	w.Go(func() {
		<-w.HaltCh()
		close(done)
	})

	select {
	case <-done:
		t.Fatal("worker finished before Halt was called")
	case <-time.After(20 * time.Millisecond):
	}

	w.Halt()
	w.Wait()

	select {
	case <-done:
	default:
		t.Fatal("worker did not finish after Halt and Wait")
	}
}

func TestHaltIsIdempotent(t *testing.T) {
	var w workerpool.Worker
	w.Go(func() { <-w.HaltCh() })
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
	})
	w.Wait()
}
