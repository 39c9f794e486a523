// Package assignments turns a cohort syllabus and a student's task list into the
// per-module views shown on the dashboard, and answers progress queries over them.
package assignments

import (
	"cohortdash/internal/domain"
	"cohortdash/internal/syllabus"
)

// Options tune record assembly.
type Options struct {
	// NoInstructions fills ExtendedInstructions when a module has none.
	NoInstructions string
}

// Prepare normalizes program and tasks into a new board. When either input has
// not been loaded yet (no syllabus tree, nil task list) it returns prev as is.
func Prepare(prev Board, program syllabus.Program, tasks []domain.Task, opts Options) Board {
	if !program.Loaded() || tasks == nil {
		return prev
	}
	return NewBoard(Normalize(program.Modules(), tasks, opts))
}

// Normalize builds one record per module that has all four content kinds,
// replacing earlier records that share an id, and drops records without slots.
func Normalize(modules []domain.Module, tasks []domain.Task, opts Options) []domain.AssignmentRecord {
	index := indexTasks(tasks)
	var collected []domain.AssignmentRecord
	for _, m := range modules {
		if !m.HasAllKinds() {
			continue
		}
		rec := assemble(m, index, opts)
		if pos := indexOf(collected, rec.ID); pos > -1 {
			collected[pos] = rec
		} else {
			collected = append(collected, rec)
		}
	}
	out := make([]domain.AssignmentRecord, 0, len(collected))
	for _, rec := range collected {
		if len(rec.Modules) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

// Nest joins every slot of m with its task. filtered keeps matched slots and
// pending keeps matched slots that are not done; pending is nil when m has no
// slots at all.
func Nest(m domain.Module, tasks []domain.Task) (modules, filtered, pending []domain.Slot) {
	return nest(m, indexTasks(tasks))
}

func nest(m domain.Module, index map[string]domain.Task) (modules, filtered, pending []domain.Slot) {
	modules = []domain.Slot{}
	for _, kind := range domain.ContentKinds {
		for _, ref := range m.Contents[kind] {
			slot := domain.Slot{
				Slug:     ref.Slug,
				Title:    ref.Title,
				Target:   ref.Target,
				ModuleID: m.ID,
				Kind:     kind,
				TaskType: kind.TaskType(),
			}
			if t, ok := index[ref.Slug]; ok {
				if t.Type != "" {
					slot.TaskType = t.Type
				}
				slot.Task = &domain.SlotTask{
					ID:        t.ID,
					Status:    t.Status,
					Mandatory: t.Mandatory,
					DaysDiff:  t.DaysDiff,
				}
			}
			modules = append(modules, slot)
		}
	}
	filtered = []domain.Slot{}
	for _, s := range modules {
		if s.Task != nil {
			filtered = append(filtered, s)
		}
	}
	if len(modules) == 0 {
		return modules, filtered, nil
	}
	pending = []domain.Slot{}
	for _, s := range filtered {
		if s.Task.Status != domain.TaskDone {
			pending = append(pending, s)
		}
	}
	return modules, filtered, pending
}

func assemble(m domain.Module, index map[string]domain.Task, opts Options) domain.AssignmentRecord {
	modules, filtered, pending := nest(m, index)
	extended := m.ExtendedInstructions
	if extended == "" {
		extended = opts.NoInstructions
	}
	var duration *int
	if m.DurationInDays != nil && *m.DurationInDays != 0 {
		d := *m.DurationInDays
		duration = &d
	}
	return domain.AssignmentRecord{
		ID:                       m.ID,
		Label:                    m.Label,
		Description:              m.Description,
		Modules:                  modules,
		ExistsActivities:         len(modules) > 0,
		FilteredModules:          filtered,
		FilteredModulesByPending: pending,
		DurationInDays:           duration,
		TeacherInstructions:      m.TeacherInstructions,
		ExtendedInstructions:     extended,
		KeyConcepts:              m.KeyConcepts,
	}
}

// indexTasks maps each slug to the first task carrying it.
func indexTasks(tasks []domain.Task) map[string]domain.Task {
	index := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if _, seen := index[t.AssociatedSlug]; seen {
			continue
		}
		index[t.AssociatedSlug] = t
	}
	return index
}

func indexOf(records []domain.AssignmentRecord, id int) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
