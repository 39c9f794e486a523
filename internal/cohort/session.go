package cohort

import (
	"fmt"

	"cohortdash/internal/assignments"
	"cohortdash/internal/domain"
)

// Session is the dashboard state of one student in one cohort. A sync returns
// a new Session; callers own it and pass it back into the next sync.
type Session struct {
	Cohort        domain.CohortSession
	Board         assignments.Board
	Capabilities  []string
	UnsyncedTasks []domain.Task
}

// DailyModule returns the record of the cohort's current module.
func (s Session) DailyModule() (domain.AssignmentRecord, bool) {
	return s.Board.DailyModule(s.Cohort.CurrentModule)
}

// LastDoneModule returns the last record, in syllabus order, with a done slot.
func (s Session) LastDoneModule() (domain.AssignmentRecord, bool) {
	return s.Board.LastDoneModule()
}

// MandatoryProjects returns overdue mandatory project slots.
func (s Session) MandatoryProjects(minDays int) []domain.Slot {
	return s.Board.MandatoryProjects(minDays)
}

// HasCapability reports whether the student's role grants capability.
func (s Session) HasCapability(capability string) bool {
	for _, c := range s.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// ProgramPath is the dashboard route of a cohort's syllabus version.
func ProgramPath(c domain.Cohort) string {
	return fmt.Sprintf("/cohort/%s/%s/v%d", c.Slug, c.SyllabusVersion.Slug, c.SyllabusVersion.Version)
}

// NewCohortSession builds the session for a cohort membership.
func NewCohortSession(m domain.CohortMembership) domain.CohortSession {
	return domain.CohortSession{
		Cohort:              m.Cohort,
		SelectedProgramSlug: ProgramPath(m.Cohort),
		CohortRole:          m.Role,
		CohortUser: domain.CohortUser{
			CreatedAt:         m.CreatedAt,
			EducationalStatus: m.EducationalStatus,
			FinantialStatus:   m.FinantialStatus,
			Role:              m.Role,
		},
	}
}

// FindMembership returns the user's membership in the cohort with slug.
func FindMembership(p domain.Profile, slug string) (domain.CohortMembership, bool) {
	for _, m := range p.Cohorts {
		if m.Cohort.Slug == slug {
			return m, true
		}
	}
	return domain.CohortMembership{}, false
}
