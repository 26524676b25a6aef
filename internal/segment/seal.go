package segment

import "os"

// Complete implements seal path A: while Writer, it computes the hash
// region synchronously (on the actor's own goroutine), writes it and
// the top index, closes and renames .pnd -> .cdb, and reopens the file
// read-only in Reader.
func (s *Segment) Complete() error {
	return s.do(func() error {
		if s.state != StateWriter {
			return ErrWrongState
		}
		region, topIndex := buildHashRegion(s.buckets, s.cursor)
		return s.finishSeal(region, topIndex)
	})
}

// Roll implements seal path B: while Writer, hash-region computation
// is handed to a helper goroutine (the hashtable_calc service) so it
// can proceed in parallel; the segment transitions to Rolling
// immediately and keeps serving Get/KeyCheck from the in-memory map,
// but no longer accepts Put. Once the helper reports back (picked up
// by the actor loop via rollResultCh), the segment writes the result,
// renames the file, and transitions to Reader.
func (s *Segment) Roll() error {
	return s.do(func() error {
		if s.state != StateWriter {
			return ErrWrongState
		}
		buckets := s.buckets // buckets is a value array: this copies it for the helper
		cursor := s.cursor
		s.state = StateRolling

		go func() {
			region, topIndex := buildHashRegion(buckets, cursor)
			s.rollResultCh <- rollOutcome{region: region, topIndex: topIndex}
		}()
		return nil
	})
}

func (s *Segment) onRollComplete(outcome rollOutcome) {
	if outcome.err != nil {
		s.logger.Error("roll helper failed", zapErr(outcome.err))
		return
	}
	if err := s.finishSeal(outcome.region, outcome.topIndex); err != nil {
		s.logger.Error("failed to finish seal after roll", zapErr(err))
		return
	}
	if s.pendingDelete != nil {
		pd := s.pendingDelete
		s.pendingDelete = nil
		s.enterDeletePending(pd.manSQN, pd.coordinator)
	}
}

// finishSeal writes the hash region and top index computed by either
// Complete or Roll's helper, closes and renames the file, reopens it
// read-only, and transitions to Reader. Must run on the actor
// goroutine.
func (s *Segment) finishSeal(region []byte, topIndex [numSubtables]topIndexEnt) error {
	if _, err := s.file.WriteAt(region, s.cursor); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(encodeTopIndex(topIndex), 0); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return err
	}

	sealedPath := s.prefix + SealedFileSuffix
	if err := os.Rename(s.path, sealedPath); err != nil {
		return err
	}
	s.path = sealedPath

	f, err := os.OpenFile(s.path, os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	s.topIndex = topIndex
	s.hashRegionStart = s.cursor
	s.buckets = [numSubtables]bucket{}
	s.state = StateReader
	return nil
}

// DeletePending implements delete_pending(manSQN, inker): from
// Reader, enters DeletePending immediately. From Rolling, the request
// is deferred until the roll finishes and the segment reaches Reader.
func (s *Segment) DeletePending(manSQN uint64, coordinator DeleteCoordinator) error {
	return s.do(func() error {
		switch s.state {
		case StateReader:
			s.enterDeletePending(manSQN, coordinator)
			return nil
		case StateRolling:
			s.pendingDelete = &pendingDeleteReq{manSQN: manSQN, coordinator: coordinator}
			return nil
		default:
			return ErrWrongState
		}
	})
}

func (s *Segment) enterDeletePending(manSQN uint64, coordinator DeleteCoordinator) {
	s.manSQN = manSQN
	s.coordinator = coordinator
	s.state = StateDeletePending
}

// onDeleteTick runs on every delete_timeout tick while DeletePending:
// it asks the coordinator whether manSQN is safe to delete at. true
// deletes the file and stops the actor; false waits for the next
// tick; an error (the coordinator has died) stops the actor silently
// rather than retrying against a peer that's gone.
func (s *Segment) onDeleteTick() {
	if s.state != StateDeletePending {
		return
	}
	safe, err := s.coordinator.ConfirmDelete(s.manSQN)
	if err != nil {
		s.logger.Debug("delete coordinator unreachable, stopping silently", zapErr(err))
		s.state = StateStopped
		return
	}
	if !safe {
		return
	}

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err := os.Remove(s.path); err != nil {
		s.logger.Error("failed to remove retired segment file", zapErr(err))
	}
	s.state = StateStopped
}
