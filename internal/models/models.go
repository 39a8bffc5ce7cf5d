package models

import "fmt"

// Role is the fixed, ordered set of caller roles. The order matters:
// reader < editor < accredited_agent < admin.
type Role string

const (
	RoleReader          Role = "reader"
	RoleEditor          Role = "editor"
	RoleAccreditedAgent Role = "accredited_agent"
	RoleAdmin           Role = "admin"
)

// Tier returns the role's position in the total order, or -1 for an
// unrecognized role.
func (r Role) Tier() int {
	switch r {
	case RoleReader:
		return 0
	case RoleEditor:
		return 1
	case RoleAccreditedAgent:
		return 2
	case RoleAdmin:
		return 3
	default:
		return -1
	}
}

func (r Role) Valid() bool {
	return r.Tier() >= 0
}

// Sensitivity tags a document's contents.
type Sensitivity string

const (
	SensitivityStandard Sensitivity = "standard"
	SensitivityPHI      Sensitivity = "phi"
)

func (s Sensitivity) Valid() bool {
	return s == SensitivityStandard || s == SensitivityPHI
}

// Caller is a resolved identity: role plus the PHI capability flag. The
// engine never authenticates; the role resolver hands it a Caller.
type Caller struct {
	ID         string
	Role       Role
	CanViewPHI bool
}

// Document lifecycle states.
const (
	StatusReceived = "received"
	StatusChunked  = "chunked"
	StatusIndexed  = "indexed"
	StatusFailed   = "failed"
)

// Chunk is an ordered, immutable unit of a document's text. Its identity is
// (DocumentID, SequenceNo); a re-index destroys and recreates all chunks of
// a document.
type Chunk struct {
	DocumentID  string
	SequenceNo  int
	Content     string
	Sensitivity Sensitivity
	Embedding   []float32
}

// ID renders the stable chunk identity used by the index and by citations.
func (c Chunk) ID() string {
	return ChunkID(c.DocumentID, c.SequenceNo)
}

func ChunkID(documentID string, sequenceNo int) string {
	return fmt.Sprintf("%s:%04d", documentID, sequenceNo)
}

// ScoredChunk is one ranked retrieval hit.
type ScoredChunk struct {
	Chunk
	Score float32
}

// RetrievalResult is the ranked outcome of one query. Produced fresh per
// query, never persisted.
type RetrievalResult struct {
	ClientID string
	Chunks   []ScoredChunk
}

// ChunkIDs returns the result's chunk ids in rank order.
func (rr *RetrievalResult) ChunkIDs() []string {
	ids := make([]string, len(rr.Chunks))
	for i, c := range rr.Chunks {
		ids[i] = c.ID()
	}
	return ids
}

// Contains reports whether the result holds the given chunk id.
func (rr *RetrievalResult) Contains(chunkID string) bool {
	for _, c := range rr.Chunks {
		if c.ID() == chunkID {
			return true
		}
	}
	return false
}

// Citation asserts that a draft sentence is grounded in a specific chunk.
// Every citation's ChunkID is a member of the retrieval result that fed the
// generation call; the generator enforces this.
type Citation struct {
	Sentence string
	ChunkID  string
}

// Draft is validated generator output. Sentences that could not be grounded
// carry the review tag inline in Text and emit no citation; NeedsReview is
// true when at least one such sentence exists.
type Draft struct {
	Text        string
	Citations   []Citation
	NeedsReview bool
}
