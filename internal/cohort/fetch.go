package cohort

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"cohortdash/internal/breathecode"
	"cohortdash/internal/domain"
	"cohortdash/internal/syllabus"
)

// Upstream is the part of the upstream API the dashboard needs.
type Upstream interface {
	Me(ctx context.Context) (domain.Profile, error)
	TasksByStudent(ctx context.Context, q breathecode.TaskQuery) ([]domain.Task, error)
	Syllabus(ctx context.Context, academyID int, slug string, version int) (syllabus.Program, error)
	Role(ctx context.Context, role string) (domain.RoleCapabilities, error)
	Asset(ctx context.Context, slug string) (domain.Asset, error)
}

// FetchRequest names the three upstream resources a sync needs.
type FetchRequest struct {
	CohortID        int
	TaskLimit       int
	AcademyID       int
	SyllabusSlug    string
	SyllabusVersion int
	Role            string
}

// Fetched holds the joined upstream results.
type Fetched struct {
	Tasks   []domain.Task
	Program syllabus.Program
	Role    domain.RoleCapabilities
}

// FetchAll runs the task, syllabus and role fetches concurrently. It returns
// either all three results or the first error; the remaining fetches are
// cancelled once one fails.
func FetchAll(ctx context.Context, up Upstream, req FetchRequest) (Fetched, error) {
	var out Fetched
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error {
		cohortID := req.CohortID
		tasks, err := up.TasksByStudent(ctx, breathecode.TaskQuery{Cohort: &cohortID, Limit: req.TaskLimit})
		if err != nil {
			return fmt.Errorf("fetch tasks: %w", err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		out.Tasks = tasks
		return nil
	})
	p.Go(func(ctx context.Context) error {
		program, err := up.Syllabus(ctx, req.AcademyID, req.SyllabusSlug, req.SyllabusVersion)
		if err != nil {
			return fmt.Errorf("fetch syllabus %s v%d: %w", req.SyllabusSlug, req.SyllabusVersion, err)
		}
		out.Program = program
		return nil
	})
	p.Go(func(ctx context.Context) error {
		role, err := up.Role(ctx, req.Role)
		if err != nil {
			return fmt.Errorf("fetch role %s: %w", req.Role, err)
		}
		out.Role = role
		return nil
	})
	if err := p.Wait(); err != nil {
		return Fetched{}, err
	}
	return out, nil
}
