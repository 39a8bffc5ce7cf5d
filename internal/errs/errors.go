package errs

import "errors"

// Error kinds surfaced by the engine. Callers match with errors.Is; the
// kind survives wrapping so retry decisions can be made at the edge.
var (
	// ErrConfiguration marks a caller-code bug (bad chunking parameters etc).
	ErrConfiguration = errors.New("configuration error")

	// ErrEmbeddingBackend is returned after the embedding retry budget is spent.
	ErrEmbeddingBackend = errors.New("embedding backend error")

	// ErrGenerationBackend is returned when the generation backend fails or times out.
	ErrGenerationBackend = errors.New("generation backend error")

	// ErrNotFound means no indexed content exists for the requested scope.
	ErrNotFound = errors.New("not found")

	// ErrDenied is an authorization failure. The reason stays generic so the
	// error never confirms which specific resource exists.
	ErrDenied = errors.New("access denied")

	// ErrConflict signals a rejected concurrent re-index of the same document.
	ErrConflict = errors.New("conflict")

	// ErrAuditWrite is fatal for the enclosing call: no record, no result.
	ErrAuditWrite = errors.New("audit write failed")
)

// Label returns a short, PII-free description of an error's kind, suitable
// for audit records and log fields.
func Label(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration error"
	case errors.Is(err, ErrEmbeddingBackend):
		return "embedding backend error"
	case errors.Is(err, ErrGenerationBackend):
		return "generation backend error"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrDenied):
		return "access denied"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrAuditWrite):
		return "audit write failed"
	default:
		return "internal error"
	}
}
