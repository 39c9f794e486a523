package assignments

import (
	"cohortdash/internal/domain"
)

// DefaultOverdueDays is how long a mandatory project may stay pending before it
// counts as overdue.
const DefaultOverdueDays = 14

// Board is a published assignment sequence. A Board is never modified after it
// is built; publishing produces a new one.
type Board struct {
	records   []domain.AssignmentRecord
	published bool
}

// NewBoard wraps an already normalized sequence, e.g. one loaded from the store.
func NewBoard(records []domain.AssignmentRecord) Board {
	return Board{records: records, published: true}
}

// Published reports whether the board holds a normalization result.
func (b Board) Published() bool { return b.published }

// Records returns the published sequence.
func (b Board) Records() []domain.AssignmentRecord {
	if b.records == nil {
		return []domain.AssignmentRecord{}
	}
	return b.records
}

// DailyModule returns the record for the cohort's current module.
func (b Board) DailyModule(currentModule *int) (domain.AssignmentRecord, bool) {
	if currentModule == nil {
		return domain.AssignmentRecord{}, false
	}
	for _, rec := range b.records {
		if rec.ID == *currentModule {
			return rec, true
		}
	}
	return domain.AssignmentRecord{}, false
}

// LastDoneModule returns the last record, in board order, holding at least one
// done slot. Board order is not completion order.
func (b Board) LastDoneModule() (domain.AssignmentRecord, bool) {
	var (
		last  domain.AssignmentRecord
		found bool
	)
	for _, rec := range b.records {
		for _, s := range rec.Modules {
			if s.Status() == domain.TaskDone {
				last, found = rec, true
				break
			}
		}
	}
	return last, found
}

// MandatoryProjects returns pending mandatory project slots that have been
// open for at least minDays, in record then slot order. minDays <= 0 uses
// DefaultOverdueDays.
func (b Board) MandatoryProjects(minDays int) []domain.Slot {
	if minDays <= 0 {
		minDays = DefaultOverdueDays
	}
	out := []domain.Slot{}
	for _, rec := range b.records {
		for _, s := range rec.FilteredModules {
			if isOverdueMandatory(s, minDays) {
				out = append(out, s)
			}
		}
	}
	return out
}

func isOverdueMandatory(s domain.Slot, minDays int) bool {
	return s.Task != nil &&
		s.TaskType == domain.TaskProject &&
		s.Task.Status == domain.TaskPending &&
		s.Task.Mandatory &&
		s.Task.DaysDiff >= minDays
}

// UnsyncedTasks returns the tasks whose slug appears in a record's slots. The
// scan runs per record, so a task matching two records is returned twice.
func (b Board) UnsyncedTasks(tasks []domain.Task) []domain.Task {
	out := []domain.Task{}
	for _, rec := range b.records {
		slugs := make(map[string]struct{}, len(rec.Modules))
		for _, s := range rec.Modules {
			slugs[s.Slug] = struct{}{}
		}
		for _, t := range tasks {
			if _, ok := slugs[t.AssociatedSlug]; ok {
				out = append(out, t)
			}
		}
	}
	return out
}

// ReportUnsynced runs UnsyncedTasks and hands the outcome to report.
func (b Board) ReportUnsynced(tasks []domain.Task, report func(found bool, tasks []domain.Task)) []domain.Task {
	out := b.UnsyncedTasks(tasks)
	if report != nil {
		report(len(out) != 0, out)
	}
	return out
}
