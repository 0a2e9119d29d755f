package builder

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/mycok/geoindex/index"
)

// sessionState tracks a single ingestion call:
//
//	Idle -> Writing -> Committed
//	             \---> RolledBack
//
// Idle may also move straight to either final state when nothing was added.
type sessionState uint8

const (
	stateIdle sessionState = iota
	stateWriting
	stateCommitted
	stateRolledBack
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateWriting:
		return "writing"
	case stateCommitted:
		return "committed"
	case stateRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// session owns the store writer for the duration of one ingestion call.
type session struct {
	w     index.Writer
	state sessionState
	added int
}

func openSession(store index.Store, location string, mode index.Mode) (*session, error) {
	w, err := store.OpenWriter(location, mode)
	if err != nil {
		return nil, err
	}

	return &session{w: w}, nil
}

// add writes e through the session. The first add moves the session into
// the Writing state.
func (s *session) add(e *index.Entry) error {
	switch s.state {
	case stateIdle:
		s.state = stateWriting
	case stateWriting:
	default:
		return fmt.Errorf("add entry: session %s: %w", s.state, index.ErrSessionClosed)
	}

	if e == nil {
		return fmt.Errorf("add entry: nil entry")
	}

	if err := s.w.Index(index.NewDocument(e)); err != nil {
		return fmt.Errorf("add entry %q: %w", e.Name(), err)
	}
	s.added++

	return nil
}

// commit publishes everything added so far and releases the writer. A
// writer that fails to commit has already discarded its batch.
func (s *session) commit() error {
	if s.state != stateIdle && s.state != stateWriting {
		return fmt.Errorf("commit: session %s: %w", s.state, index.ErrSessionClosed)
	}

	if err := s.w.Close(); err != nil {
		s.state = stateRolledBack

		return fmt.Errorf("commit: %w", err)
	}
	s.state = stateCommitted

	return nil
}

// abort rolls back everything added so far and only then releases the
// writer. The returned error carries cause plus any rollback or release
// failure. Aborting a finished session returns cause unchanged.
func (s *session) abort(cause error) error {
	if s.state != stateIdle && s.state != stateWriting {
		return cause
	}
	s.state = stateRolledBack

	err := cause
	if rbErr := s.w.Rollback(); rbErr != nil {
		err = multierror.Append(err, fmt.Errorf("rollback: %w", rbErr))
	}

	if cErr := s.w.Close(); cErr != nil {
		err = multierror.Append(err, fmt.Errorf("release writer: %w", cErr))
	}

	return err
}
