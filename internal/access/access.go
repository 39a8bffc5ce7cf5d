// Package access holds the pure authorization check. No I/O, no state:
// a caller, a sensitivity tag, a yes or no.
package access

import "github.com/NDAR123909/vbi-claims-navigator/internal/models"

// Allowed reports whether the caller may see content with the given
// sensitivity tag. PHI requires the capability flag regardless of role tier;
// an unrecognized role sees nothing.
func Allowed(caller models.Caller, s models.Sensitivity) bool {
	if !caller.Role.Valid() {
		return false
	}
	switch s {
	case models.SensitivityStandard:
		return true
	case models.SensitivityPHI:
		return caller.CanViewPHI
	default:
		return false
	}
}

// Filter derives the sensitivity tags a retrieval may return for the caller.
// The retriever pushes this into the index query so result counts stay
// meaningful; it is never applied as a post-hoc strip.
func Filter(caller models.Caller) []models.Sensitivity {
	if !caller.Role.Valid() {
		return nil
	}
	if caller.CanViewPHI {
		return []models.Sensitivity{models.SensitivityStandard, models.SensitivityPHI}
	}
	return []models.Sensitivity{models.SensitivityStandard}
}
