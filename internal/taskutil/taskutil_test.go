package taskutil

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestGoRunsFn(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	Go("test-go", func() error {
		defer wg.Done()
		ran = true
		return nil
	})
	wg.Wait()
	if !ran {
		t.Fatal("Go should have run fn")
	}
}

func TestDoneSwallowsNilAndCancelled(t *testing.T) {
	// Done must not panic on nil or context.Canceled; there is nothing
	// observable to assert beyond "it returns".
	Done("test-done", nil)
	Done("test-done", context.Canceled)
	Done("test-done", errors.New("boom"))
}
