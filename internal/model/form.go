package model

import (
	"time"

	"github.com/dukerupert/smartform/internal/form"
)

// FormProgress is the single in-progress draft a user may have.
type FormProgress struct {
	UserID      string    `json:"userId"`
	CurrentStep int       `json:"currentStep"`
	FormData    form.Data `json:"formData"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type FormSubmission struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	FormData    form.Data `json:"formData"`
	SubmittedAt time.Time `json:"submittedAt"`
}
