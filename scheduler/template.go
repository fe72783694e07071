package scheduler

import "time"

// Template is a reusable job blueprint. Creating a job from a template
// copies the trigger and params into the job at creation time; later edits
// to the template never touch jobs already created from it.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TriggerKind string    `json:"trigger_kind"`
	TriggerExpr string    `json:"trigger_expr"`
	Params      JobParams `json:"params"`
	CreatedAt   time.Time `json:"created_at"`
}
