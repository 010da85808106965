package shutdown

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTrackerStartDone(t *testing.T) {
	tr := NewOperationTracker()

	if !tr.Start() {
		t.Fatal("Start on open tracker returned false")
	}
	if got := tr.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}

	tr.Done()
	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after Done = %d, want 0", got)
	}
}

func TestTrackerRejectsAfterClose(t *testing.T) {
	tr := NewOperationTracker()
	tr.Close()

	if tr.Start() {
		t.Error("Start on closed tracker returned true")
	}
	if !tr.IsClosed() {
		t.Error("IsClosed = false after Close")
	}
}

func TestTrackerWaitDrains(t *testing.T) {
	tr := NewOperationTracker()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		if !tr.Start() {
			t.Fatal("Start failed")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
			tr.Done()
		}()
	}

	tr.Close()
	if err := tr.Wait(time.Second); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	wg.Wait()

	if got := tr.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after drain = %d, want 0", got)
	}
}

func TestTrackerWaitTimeout(t *testing.T) {
	tr := NewOperationTracker()

	if !tr.Start() {
		t.Fatal("Start failed")
	}
	defer tr.Done()

	err := tr.Wait(10 * time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait = %v, want ErrWaitTimeout", err)
	}
}
