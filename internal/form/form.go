// Package form defines the four-step application payload and its
// validation rules.
package form

// Steps is the number of editable steps before review.
const Steps = 4

type Personal struct {
	FullName string `json:"fullName,omitempty" validate:"required,min=2"`
	Email    string `json:"email,omitempty" validate:"required,email"`
	Phone    string `json:"phone,omitempty" validate:"required,min=10"`
	Location string `json:"location,omitempty" validate:"required,min=2"`
}

type Experience struct {
	CurrentPosition   string   `json:"currentPosition,omitempty" validate:"required,min=2"`
	Company           string   `json:"company,omitempty" validate:"required,min=2"`
	YearsOfExperience *float64 `json:"yearsOfExperience,omitempty" validate:"required,min=0,max=70"`
	KeyAchievements   string   `json:"keyAchievements,omitempty" validate:"required,min=10"`
}

type Skills struct {
	PrimarySkills        string `json:"primarySkills,omitempty" validate:"required,min=5"`
	ProgrammingLanguages string `json:"programmingLanguages,omitempty" validate:"required,min=2"`
	FrameworksAndTools   string `json:"frameworksAndTools,omitempty" validate:"required,min=2"`
}

type Motivation struct {
	Motivation     string `json:"motivation,omitempty" validate:"required,min=20"`
	StartDate      string `json:"startDate,omitempty" validate:"required,min=1"`
	ExpectedSalary string `json:"expectedSalary,omitempty"`
}

// Data is the form payload. Any section may be nil while the form is in
// progress, and any field inside a section may be empty.
type Data struct {
	Step1 *Personal   `json:"step1,omitempty"`
	Step2 *Experience `json:"step2,omitempty"`
	Step3 *Skills     `json:"step3,omitempty"`
	Step4 *Motivation `json:"step4,omitempty"`
}

// Clone returns a deep copy.
func (d Data) Clone() Data {
	var out Data
	if d.Step1 != nil {
		s := *d.Step1
		out.Step1 = &s
	}
	if d.Step2 != nil {
		s := *d.Step2
		if s.YearsOfExperience != nil {
			y := *s.YearsOfExperience
			s.YearsOfExperience = &y
		}
		out.Step2 = &s
	}
	if d.Step3 != nil {
		s := *d.Step3
		out.Step3 = &s
	}
	if d.Step4 != nil {
		s := *d.Step4
		out.Step4 = &s
	}
	return out
}

// Empty reports whether no section has been started.
func (d Data) Empty() bool {
	return d.Step1 == nil && d.Step2 == nil && d.Step3 == nil && d.Step4 == nil
}

// Section returns the section for step n, or nil when n is out of range or
// the section is unset.
func (d Data) Section(n int) any {
	switch n {
	case 1:
		if d.Step1 != nil {
			return d.Step1
		}
	case 2:
		if d.Step2 != nil {
			return d.Step2
		}
	case 3:
		if d.Step3 != nil {
			return d.Step3
		}
	case 4:
		if d.Step4 != nil {
			return d.Step4
		}
	}
	return nil
}

// ValidStep reports whether n names an editable step.
func ValidStep(n int) bool {
	return n >= 1 && n <= Steps
}

// Years is a convenience for building Experience literals.
func Years(v float64) *float64 { return &v }
