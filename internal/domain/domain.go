package domain

import (
	"bytes"
	"encoding/json"
)

// TaskStatus is the completion state reported by the upstream task list.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskDone    TaskStatus = "DONE"
)

// TaskType tells which kind of content a task was created for.
type TaskType string

const (
	TaskProject  TaskType = "PROJECT"
	TaskLesson   TaskType = "LESSON"
	TaskExercise TaskType = "EXERCISE"
	TaskQuiz     TaskType = "QUIZ"
)

// ContentKind names one of the four content collections of a syllabus module.
type ContentKind string

const (
	KindRead     ContentKind = "read"
	KindPractice ContentKind = "practice"
	KindProject  ContentKind = "project"
	KindAnswer   ContentKind = "answer"
)

// ContentKinds lists the content kinds in slot order.
var ContentKinds = []ContentKind{KindRead, KindPractice, KindProject, KindAnswer}

// TaskType returns the task type created for slots of this kind.
func (k ContentKind) TaskType() TaskType {
	switch k {
	case KindRead:
		return TaskLesson
	case KindPractice:
		return TaskExercise
	case KindProject:
		return TaskProject
	case KindAnswer:
		return TaskQuiz
	default:
		return ""
	}
}

// AssetType returns the registry asset type published for this kind.
func (k ContentKind) AssetType() string {
	switch k {
	case KindRead:
		return "lesson"
	case KindPractice:
		return "exercise"
	case KindProject:
		return "project"
	case KindAnswer:
		return "quiz"
	default:
		return ""
	}
}

type Task struct {
	ID             int        `json:"id"`
	Title          string     `json:"title"`
	AssociatedSlug string     `json:"associated_slug"`
	Status         TaskStatus `json:"task_status"`
	RevisionStatus string     `json:"revision_status,omitempty"`
	Type           TaskType   `json:"task_type"`
	Mandatory      bool       `json:"mandatory"`
	DaysDiff       int        `json:"days_diff"`
	CohortID       *int       `json:"cohort,omitempty"`
	GithubURL      string     `json:"github_url,omitempty"`
	CreatedAt      string     `json:"created_at,omitempty" format:"date-time"`
}

// ContentRef is one entry of a module content collection.
type ContentRef struct {
	Slug      string `json:"slug"`
	Title     string `json:"title,omitempty"`
	Target    string `json:"target,omitempty"`
	Mandatory *bool  `json:"mandatory,omitempty"`
}

// UnmarshalJSON accepts both the object form and the bare slug string used by
// older syllabus versions.
func (c *ContentRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &c.Slug)
	}
	type plain ContentRef
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*c = ContentRef(p)
	return nil
}

// Module is a syllabus module adapted from either upstream tree shape.
// Contents holds a key for every kind present upstream, even when empty.
type Module struct {
	ID                   int
	Label                string
	Description          string
	Contents             map[ContentKind][]ContentRef
	DurationInDays       *int
	TeacherInstructions  string
	ExtendedInstructions string
	KeyConcepts          []string
}

// HasAllKinds reports whether every content kind was present upstream.
func (m Module) HasAllKinds() bool {
	for _, k := range ContentKinds {
		if _, ok := m.Contents[k]; !ok {
			return false
		}
	}
	return true
}

// SlotTask carries the task fields joined onto a slot.
type SlotTask struct {
	ID        int        `json:"id"`
	Status    TaskStatus `json:"task_status"`
	Mandatory bool       `json:"mandatory"`
	DaysDiff  int        `json:"daysDiff"`
}

// Slot is a content entry joined with its matching task, if any.
type Slot struct {
	Slug     string      `json:"slug"`
	Title    string      `json:"title,omitempty"`
	Target   string      `json:"target,omitempty"`
	ModuleID int         `json:"module_id"`
	Kind     ContentKind `json:"kind"`
	TaskType TaskType    `json:"task_type"`
	Task     *SlotTask   `json:"task,omitempty"`
}

// Status returns the joined task status, or "" when the slot has no task.
func (s Slot) Status() TaskStatus {
	if s.Task == nil {
		return ""
	}
	return s.Task.Status
}

type AssignmentRecord struct {
	ID                       int      `json:"id"`
	Label                    string   `json:"label"`
	Description              string   `json:"description,omitempty"`
	Modules                  []Slot   `json:"modules"`
	ExistsActivities         bool     `json:"exists_activities"`
	FilteredModules          []Slot   `json:"filteredModules"`
	FilteredModulesByPending []Slot   `json:"filteredModulesByPending"`
	DurationInDays           *int     `json:"duration_in_days"`
	TeacherInstructions      string   `json:"teacherInstructions,omitempty"`
	ExtendedInstructions     string   `json:"extendedInstructions,omitempty"`
	KeyConcepts              []string `json:"keyConcepts,omitempty"`
}

type Snapshot struct {
	ID         string             `json:"id"`
	CohortSlug string             `json:"cohort_slug"`
	CreatedAt  string             `json:"created_at" format:"date-time"`
	Records    []AssignmentRecord `json:"records"`
}

type SyncEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CohortSlug string `json:"cohort_slug,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Payload    string `json:"payload_json"`
}
