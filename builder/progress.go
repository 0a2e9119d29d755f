package builder

import "github.com/mycok/geoindex/index"

const (
	progressStep     = 5
	progressComplete = 100
)

// milestones reports list ingestion progress in steps of progressStep. Each
// milestone below progressComplete fires once, as soon as the share of
// indexed entries reaches it; progressComplete fires once all entries are in.
type milestones struct {
	total int
	next  int
	fn    index.ProgressFunc
}

func newMilestones(total int, fn index.ProgressFunc) *milestones {
	return &milestones{total: total, fn: fn}
}

// advance fires every milestone reached after done entries were indexed.
func (m *milestones) advance(done int) error {
	if m.fn == nil || m.total == 0 {
		return nil
	}

	reached := int(int64(done) * progressComplete / int64(m.total))
	for m.next < progressComplete && m.next <= reached {
		if err := m.fn(m.next); err != nil {
			return err
		}
		m.next += progressStep
	}

	return nil
}

// complete fires the final milestone.
func (m *milestones) complete() error {
	if m.fn == nil {
		return nil
	}

	return m.fn(progressComplete)
}
