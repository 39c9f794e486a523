package syllabus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortdash/internal/domain"
	"cohortdash/internal/syllabus"
)

func TestDecodeModulesShape(t *testing.T) {
	p, err := syllabus.Decode([]byte(`{
		"slug": "full-stack",
		"version": 3,
		"json": {"modules": [
			{"id": 1, "label": "Intro", "lessons": [{"slug": "a"}], "replits": [], "assignments": ["b"], "quizzes": [],
			 "duration_in_days": 2, "teacher_instructions": "warm up", "key-concepts": ["html"]}
		]}
	}`))
	require.NoError(t, err)
	require.True(t, p.Loaded())

	mods := p.Modules()
	require.Len(t, mods, 1)
	m := mods[0]
	assert.Equal(t, 1, m.ID)
	assert.True(t, m.HasAllKinds())
	assert.Equal(t, "a", m.Contents[domain.KindRead][0].Slug)
	assert.Equal(t, "b", m.Contents[domain.KindProject][0].Slug)
	assert.Empty(t, m.Contents[domain.KindPractice])
	require.NotNil(t, m.DurationInDays)
	assert.Equal(t, 2, *m.DurationInDays)
	assert.Equal(t, []string{"html"}, m.KeyConcepts)
}

func TestDecodeDaysShape(t *testing.T) {
	p, err := syllabus.Decode([]byte(`{"json": {"days": [{"id": 7, "label": "Day 7", "lessons": [], "replits": [], "assignments": [], "quizzes": []}]}}`))
	require.NoError(t, err)
	mods := p.Modules()
	require.Len(t, mods, 1)
	assert.Equal(t, 7, mods[0].ID)
}

func TestModulesPreferredOverDays(t *testing.T) {
	p, err := syllabus.Decode([]byte(`{"json": {
		"days": [{"id": 1, "lessons": [], "replits": [], "assignments": [], "quizzes": []}],
		"modules": [{"id": 2, "lessons": [], "replits": [], "assignments": [], "quizzes": []}]
	}}`))
	require.NoError(t, err)
	mods := p.Modules()
	require.Len(t, mods, 1)
	assert.Equal(t, 2, mods[0].ID)
}

func TestMissingAndNullKindsAreAbsent(t *testing.T) {
	p, err := syllabus.Decode([]byte(`{"json": {"modules": [
		{"id": 1, "replits": [], "assignments": [], "quizzes": []},
		{"id": 2, "lessons": null, "replits": [], "assignments": [], "quizzes": []}
	]}}`))
	require.NoError(t, err)
	for _, m := range p.Modules() {
		assert.False(t, m.HasAllKinds(), "module %d", m.ID)
		_, ok := m.Contents[domain.KindRead]
		assert.False(t, ok)
	}
}

func TestNoTree(t *testing.T) {
	p, err := syllabus.Decode([]byte(`{"slug": "x"}`))
	require.NoError(t, err)
	assert.False(t, p.Loaded())
	assert.Nil(t, p.Modules())

	p, err = syllabus.Decode([]byte(`{"json": {}}`))
	require.NoError(t, err)
	assert.True(t, p.Loaded())
	assert.Empty(t, p.Modules())
}

func TestBuilderShapes(t *testing.T) {
	var b syllabus.Builder
	b.Add(syllabus.ModuleSpec{ID: 1, Lessons: syllabus.Refs("a"), Replits: syllabus.Refs(), Assignments: syllabus.Refs(), Quizzes: syllabus.Refs()})
	b.Add(syllabus.ModuleSpec{ID: 2, Replits: syllabus.Refs(), Assignments: syllabus.Refs(), Quizzes: syllabus.Refs()})

	for _, p := range []syllabus.Program{b.Build(), b.Days()} {
		mods := p.Modules()
		require.Len(t, mods, 2)
		assert.True(t, mods[0].HasAllKinds())
		assert.False(t, mods[1].HasAllKinds())
	}
}
