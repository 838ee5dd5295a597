package session

// Patch is a partial update carrying only changed fields. Every field is
// pointer-typed so "absent" and "set to zero value" stay distinguishable; a
// nil field leaves the stored value untouched. The resolver performs no text
// normalization on caller-supplied values.
type Patch struct {
	Description        *string                `json:"description,omitempty"`
	Preferences        *Preferences           `json:"preferences,omitempty"`
	AcceptanceCriteria *[]AcceptanceCriterion `json:"acceptance_criteria,omitempty"`
	AffectedFiles      *[]string              `json:"affected_files,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p Patch) IsEmpty() bool {
	return p.Description == nil && p.Preferences == nil &&
		p.AcceptanceCriteria == nil && p.AffectedFiles == nil
}

// Apply copies the present fields onto s, field by field. Slice fields are
// copied so the patch and the session never share backing arrays.
func (p Patch) Apply(s *Session) {
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Preferences != nil {
		s.Preferences = p.Preferences.Normalized()
	}
	if p.AcceptanceCriteria != nil {
		criteria := make([]AcceptanceCriterion, len(*p.AcceptanceCriteria))
		copy(criteria, *p.AcceptanceCriteria)
		s.AcceptanceCriteria = criteria
	}
	if p.AffectedFiles != nil {
		files := make([]string, len(*p.AffectedFiles))
		copy(files, *p.AffectedFiles)
		s.AffectedFiles = files
	}
}
