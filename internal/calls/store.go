package calls

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"
)

// Store is the persistence contract of the call record.
//
// FindByExternalID returns (nil, nil) when no call exists. Insert returns
// ErrDuplicate when the external ID is taken. Update applies only the set
// fields of CallUpdate and appends log entries, never replacing them.
type Store interface {
	FindByExternalID(ctx context.Context, externalCallID string) (*Call, error)
	GetByID(ctx context.Context, id uuid.UUID) (Call, error)
	Insert(ctx context.Context, call Call) (Call, error)
	Update(ctx context.Context, id uuid.UUID, update CallUpdate) (Call, error)
	ListStuck(ctx context.Context, params ListStuckParams) ([]Call, error)
}

// SortTranscript orders segments by sequence, keeping input order for ties.
func SortTranscript(segments []TranscriptSegment) {
	slices.SortStableFunc(segments, func(a, b TranscriptSegment) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
}
