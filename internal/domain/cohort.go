package domain

type Academy struct {
	ID   int    `json:"id"`
	Slug string `json:"slug,omitempty"`
	Name string `json:"name,omitempty"`
}

type SyllabusVersion struct {
	Slug    string `json:"slug"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version"`
}

type Cohort struct {
	ID              int             `json:"id"`
	Slug            string          `json:"slug"`
	Name            string          `json:"name,omitempty"`
	Stage           string          `json:"stage,omitempty"`
	CurrentModule   *int            `json:"current_module,omitempty"`
	Academy         Academy         `json:"academy"`
	SyllabusVersion SyllabusVersion `json:"syllabus_version"`
}

// CohortMembership is one entry of the user's cohort list.
type CohortMembership struct {
	Cohort            Cohort `json:"cohort"`
	Role              string `json:"role"`
	CreatedAt         string `json:"created_at,omitempty"`
	EducationalStatus string `json:"educational_status,omitempty"`
	FinantialStatus   string `json:"finantial_status,omitempty"`
}

type AcademyRole struct {
	Academy Academy `json:"academy"`
	Role    string  `json:"role"`
}

type Profile struct {
	ID        int                `json:"id"`
	Email     string             `json:"email,omitempty"`
	FirstName string             `json:"first_name,omitempty"`
	LastName  string             `json:"last_name,omitempty"`
	Roles     []AcademyRole      `json:"roles"`
	Cohorts   []CohortMembership `json:"cohorts"`
}

// RoleFor returns the user's role in the given academy.
func (p Profile) RoleFor(academyID int) (AcademyRole, bool) {
	for _, r := range p.Roles {
		if r.Academy.ID == academyID {
			return r, true
		}
	}
	return AcademyRole{}, false
}

type RoleCapabilities struct {
	Slug         string   `json:"slug"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities"`
}

type CohortUser struct {
	CreatedAt         string `json:"created_at,omitempty"`
	EducationalStatus string `json:"educational_status,omitempty"`
	FinantialStatus   string `json:"finantial_status,omitempty"`
	Role              string `json:"role"`
}

// CohortSession is the cohort the student is currently working in.
type CohortSession struct {
	Cohort
	SelectedProgramSlug string     `json:"selectedProgramSlug"`
	CohortRole          string     `json:"cohort_role"`
	CohortUser          CohortUser `json:"cohort_user"`
}

type Asset struct {
	Slug         string            `json:"slug"`
	Title        string            `json:"title,omitempty"`
	AssetType    string            `json:"asset_type"`
	Lang         string            `json:"lang,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
}

// Notification is a user-facing message raised by a failed dashboard operation.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Position    string `json:"position"`
	DurationMS  int    `json:"duration"`
	IsClosable  bool   `json:"isClosable"`
}
