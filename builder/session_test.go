package builder

import (
	"errors"

	"github.com/golang/mock/gomock"
	check "gopkg.in/check.v1"

	"github.com/mycok/geoindex/index"
	mock_index "github.com/mycok/geoindex/index/mocks"
)

var _ = check.Suite(new(SessionTestSuite))

type SessionTestSuite struct{}

func (s *SessionTestSuite) TestStateTransitions(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	sess, w := s.openSession(c, ctrl)
	c.Assert(sess.state, check.Equals, stateIdle)

	w.EXPECT().Index(gomock.Any()).Return(nil).Times(2)
	c.Assert(sess.add(makeEntry(c, "Phoenix", 1)), check.IsNil)
	c.Assert(sess.state, check.Equals, stateWriting)
	c.Assert(sess.add(makeEntry(c, "Tempe", 1)), check.IsNil)
	c.Assert(sess.added, check.Equals, 2)

	w.EXPECT().Close().Return(nil)
	c.Assert(sess.commit(), check.IsNil)
	c.Assert(sess.state, check.Equals, stateCommitted)

	// A finished session accepts nothing else and never touches the writer.
	err := sess.add(makeEntry(c, "Mesa", 1))
	c.Assert(errors.Is(err, index.ErrSessionClosed), check.Equals, true)
	c.Assert(errors.Is(sess.commit(), index.ErrSessionClosed), check.Equals, true)
	c.Assert(sess.abort(errWrite), check.Equals, errWrite)
}

func (s *SessionTestSuite) TestCommitFromIdle(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	sess, w := s.openSession(c, ctrl)
	w.EXPECT().Close().Return(nil)

	c.Assert(sess.commit(), check.IsNil)
	c.Assert(sess.state, check.Equals, stateCommitted)
}

func (s *SessionTestSuite) TestAbortRollsBackBeforeRelease(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	sess, w := s.openSession(c, ctrl)
	errClose := errors.New("close failed")
	gomock.InOrder(
		w.EXPECT().Index(gomock.Any()).Return(nil),
		w.EXPECT().Rollback().Return(nil),
		w.EXPECT().Close().Return(errClose),
	)

	c.Assert(sess.add(makeEntry(c, "Phoenix", 1)), check.IsNil)

	err := sess.abort(errWrite)
	c.Assert(sess.state, check.Equals, stateRolledBack)
	c.Assert(errors.Is(err, errWrite), check.Equals, true)
	c.Assert(errors.Is(err, errClose), check.Equals, true)
}

func (s *SessionTestSuite) TestFailedCommitEndsSession(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	sess, w := s.openSession(c, ctrl)
	w.EXPECT().Close().Return(errWrite)

	c.Assert(errors.Is(sess.commit(), errWrite), check.Equals, true)
	c.Assert(sess.state, check.Equals, stateRolledBack)
	c.Assert(sess.state.String(), check.Equals, "rolled back")
}

func (s *SessionTestSuite) openSession(c *check.C, ctrl *gomock.Controller) (*session, *mock_index.MockWriter) {
	store := mock_index.NewMockStore(ctrl)
	w := mock_index.NewMockWriter(ctrl)
	store.EXPECT().OpenWriter(testLocation, index.ModeCreate).Return(w, nil)

	sess, err := openSession(store, testLocation, index.ModeCreate)
	c.Assert(err, check.IsNil)

	return sess, w
}
