package builder

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(new(MilestonesTestSuite))

type MilestonesTestSuite struct{}

func (s *MilestonesTestSuite) TestFiresAsEntriesAreIndexed(c *check.C) {
	const total = 20

	var indexed int
	fired := make(map[int]int)
	m := newMilestones(total, func(p int) error {
		_, dup := fired[p]
		c.Assert(dup, check.Equals, false, check.Commentf("milestone %d fired twice", p))
		fired[p] = indexed
		return nil
	})

	for indexed = 1; indexed <= total; indexed++ {
		c.Assert(m.advance(indexed), check.IsNil)
	}
	indexed = total
	c.Assert(m.complete(), check.IsNil)

	c.Assert(fired, check.HasLen, 21)
	for p := 0; p < 100; p += 5 {
		exp := p / 5
		if exp == 0 {
			exp = 1
		}
		c.Assert(fired[p], check.Equals, exp, check.Commentf("milestone %d", p))
	}
	c.Assert(fired[100], check.Equals, total)
}

func (s *MilestonesTestSuite) TestLargeTotal(c *check.C) {
	const total = 1_000_003

	var got []int
	m := newMilestones(total, func(p int) error {
		got = append(got, p)
		return nil
	})

	for i := 1; i <= total; i++ {
		c.Assert(m.advance(i), check.IsNil)
	}

	c.Assert(got, check.HasLen, 20)
	c.Assert(got[19], check.Equals, 95)
}

func (s *MilestonesTestSuite) TestNilCallback(c *check.C) {
	m := newMilestones(3, nil)
	c.Assert(m.advance(3), check.IsNil)
	c.Assert(m.complete(), check.IsNil)
}
