package domain

// Document is the persisted aggregate: every administrator, every disease
// entry and the counter used to assign disease ids.
type Document struct {
	Admins   []Admin   `json:"admins"`
	Diseases []Disease `json:"diseases"`
	NextID   int64     `json:"nextId"`
}
