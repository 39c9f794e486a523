// Package syllabus decodes the upstream cohort program and adapts its two tree
// shapes into one module list.
package syllabus

import (
	"encoding/json"
	"fmt"

	"cohortdash/internal/domain"
)

// Program is the syllabus version document returned upstream.
type Program struct {
	Slug    string `json:"slug,omitempty"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version,omitempty"`
	JSON    *Tree  `json:"json"`
}

// Tree is the content of a syllabus version. Older versions list modules under
// "days", newer ones under "modules".
type Tree struct {
	Days    *[]wireModule `json:"days,omitempty"`
	Modules *[]wireModule `json:"modules,omitempty"`
}

type wireModule struct {
	ID                   int                  `json:"id"`
	Label                string               `json:"label"`
	Description          string               `json:"description,omitempty"`
	Lessons              *[]domain.ContentRef `json:"lessons,omitempty"`
	Replits              *[]domain.ContentRef `json:"replits,omitempty"`
	Assignments          *[]domain.ContentRef `json:"assignments,omitempty"`
	Quizzes              *[]domain.ContentRef `json:"quizzes,omitempty"`
	DurationInDays       *int                 `json:"duration_in_days,omitempty"`
	TeacherInstructions  string               `json:"teacher_instructions,omitempty"`
	ExtendedInstructions string               `json:"extended_instructions,omitempty"`
	KeyConcepts          []string             `json:"key-concepts,omitempty"`
}

// Decode parses a syllabus version document.
func Decode(data []byte) (Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return Program{}, fmt.Errorf("decode syllabus: %w", err)
	}
	return p, nil
}

// Loaded reports whether the program carries a syllabus tree.
func (p Program) Loaded() bool {
	return p.JSON != nil
}

// Modules returns the canonical module list: the "modules" tree when present,
// otherwise the "days" tree, otherwise nothing.
func (p Program) Modules() []domain.Module {
	if p.JSON == nil {
		return nil
	}
	var raw []wireModule
	switch {
	case p.JSON.Modules != nil:
		raw = *p.JSON.Modules
	case p.JSON.Days != nil:
		raw = *p.JSON.Days
	default:
		return nil
	}
	out := make([]domain.Module, 0, len(raw))
	for _, m := range raw {
		out = append(out, m.adapt())
	}
	return out
}

func (m wireModule) adapt() domain.Module {
	contents := make(map[domain.ContentKind][]domain.ContentRef, len(domain.ContentKinds))
	for kind, refs := range map[domain.ContentKind]*[]domain.ContentRef{
		domain.KindRead:     m.Lessons,
		domain.KindPractice: m.Replits,
		domain.KindProject:  m.Assignments,
		domain.KindAnswer:   m.Quizzes,
	} {
		if refs == nil {
			continue
		}
		contents[kind] = *refs
	}
	return domain.Module{
		ID:                   m.ID,
		Label:                m.Label,
		Description:          m.Description,
		Contents:             contents,
		DurationInDays:       m.DurationInDays,
		TeacherInstructions:  m.TeacherInstructions,
		ExtendedInstructions: m.ExtendedInstructions,
		KeyConcepts:          m.KeyConcepts,
	}
}

// Builder assembles a Program in code, mostly for fixtures and tests.
type Builder struct {
	modules []wireModule
}

// ModuleSpec describes one module for Builder. A nil collection is left out
// of the tree entirely.
type ModuleSpec struct {
	ID          int
	Label       string
	Lessons     []domain.ContentRef
	Replits     []domain.ContentRef
	Assignments []domain.ContentRef
	Quizzes     []domain.ContentRef
}

// Add appends a module to the tree in call order.
func (b *Builder) Add(spec ModuleSpec) *Builder {
	b.modules = append(b.modules, wireModule{
		ID:          spec.ID,
		Label:       spec.Label,
		Lessons:     refsPtr(spec.Lessons),
		Replits:     refsPtr(spec.Replits),
		Assignments: refsPtr(spec.Assignments),
		Quizzes:     refsPtr(spec.Quizzes),
	})
	return b
}

// Days builds a program using the "days" tree shape.
func (b *Builder) Days() Program {
	mods := append([]wireModule(nil), b.modules...)
	return Program{JSON: &Tree{Days: &mods}}
}

// Build builds a program using the "modules" tree shape.
func (b *Builder) Build() Program {
	mods := append([]wireModule(nil), b.modules...)
	return Program{JSON: &Tree{Modules: &mods}}
}

// Refs turns slugs into content refs.
func Refs(slugs ...string) []domain.ContentRef {
	out := make([]domain.ContentRef, 0, len(slugs))
	for _, s := range slugs {
		out = append(out, domain.ContentRef{Slug: s})
	}
	return out
}

func refsPtr(refs []domain.ContentRef) *[]domain.ContentRef {
	if refs == nil {
		return nil
	}
	return &refs
}
