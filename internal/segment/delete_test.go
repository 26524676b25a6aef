package segment

import (
	"os"
	"testing"
	"time"
)

type fakeCoordinator struct {
	confirmCh chan bool
	dead      bool
}

func (f *fakeCoordinator) ConfirmDelete(manSQN uint64) (bool, error) {
	if f.dead {
		return false, errCoordinatorDead
	}
	select {
	case v := <-f.confirmCh:
		return v, nil
	default:
		return false, nil
	}
}

var errCoordinatorDead = os.ErrClosed

// Invariant 7: delete safety — the file is only removed once the
// coordinator confirms it, not before.
func TestDeletePendingWaitsForConfirmation(t *testing.T) {
	path := tempSegPath(t)
	s, err := OpenWriter(path, 1, WithDeleteTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	k, v := kv(0)
	if _, err := s.Put(k, v); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	path = s.Path() // Complete renamed .pnd -> .cdb

	coord := &fakeCoordinator{confirmCh: make(chan bool, 1)}
	if err := s.DeletePending(7, coord); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file removed before confirmation: %v", err)
	}

	coord.confirmCh <- true
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("file was never removed after confirmation")
}

func TestDeletePendingStopsSilentlyWhenCoordinatorDies(t *testing.T) {
	path := tempSegPath(t)
	s, err := OpenWriter(path, 1, WithDeleteTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	k, v := kv(0)
	if _, err := s.Put(k, v); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete(); err != nil {
		t.Fatal(err)
	}
	path = s.Path() // Complete renamed .pnd -> .cdb

	coord := &fakeCoordinator{dead: true}
	if err := s.DeletePending(7, coord); err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should remain when coordinator died: %v", err)
	}
}
