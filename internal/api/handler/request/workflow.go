package request

// UpdateAdapter changes the asset file and/or strength of an adapter. Absent fields are kept.
type UpdateAdapter struct {
	Asset    *string  `json:"asset,omitempty" validate:"omitempty,min=1,max=512"`
	Strength *float64 `json:"strength,omitempty" validate:"omitempty,gte=0,lte=5"`
}

// SetInputs overwrites literal inputs of a node, e.g. the prompt text or the seed.
type SetInputs struct {
	Inputs map[string]any `json:"inputs" validate:"required,min=1"`
}
