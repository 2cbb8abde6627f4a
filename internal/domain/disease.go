package domain

import "time"

// Disease is a single catalog entry.
type Disease struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Symptoms    string    `json:"symptoms"`
	Treatment   string    `json:"treatment"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DiseaseInput carries the mutable fields of a Disease.
type DiseaseInput struct {
	Name        string
	Description string
	Symptoms    string
	Treatment   string
}

// Apply overwrites the mutable fields of d with the input values.
func (in DiseaseInput) Apply(d *Disease) {
	d.Name = in.Name
	d.Description = in.Description
	d.Symptoms = in.Symptoms
	d.Treatment = in.Treatment
}
