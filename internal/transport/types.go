package transport

import (
	"context"

	"tgdispatch/internal/domain"
)

// Delivery describes a delivered message (or the first message of a forwarded
// album). Link is empty when the platform gave no usable id.
type Delivery struct {
	Chat  string
	Topic int
	IDs   []int
	Link  string
}

// FirstID returns the id of the first delivered message, or 0.
func (d Delivery) FirstID() int {
	if len(d.IDs) == 0 {
		return 0
	}
	return d.IDs[0]
}

// Transport is the messaging port used by the dispatch core.
//
// Every call must be bounded by the implementation's own request timeout and
// by ctx. Failures are returned tagged (see Classify): PermissionDenied,
// RateLimited, NotFound or Transient.
type Transport interface {
	// SendText posts text as account into the destination chat/topic.
	SendText(ctx context.Context, account string, to domain.Destination, text string) (Delivery, error)
	// Forward forwards messages ids (ascending, same source chat) as one batch
	// so albums stay grouped.
	Forward(ctx context.Context, account string, to domain.Destination, fromChat string, ids []int) (Delivery, error)
	// JoinChat makes account a member of chat (or verifies membership where
	// the platform does not allow self-joining).
	JoinChat(ctx context.Context, account, chat string) error
	// FetchWindow returns the known messages of chat with ids in
	// [anchorID-size/2, anchorID-size/2+size), in any order.
	FetchWindow(ctx context.Context, chat string, anchorID, size int) ([]domain.MessageRef, error)
}

// WindowOrigin is the first id of the centered window of size around anchorID.
func WindowOrigin(anchorID, size int) int {
	o := anchorID - size/2
	if o < 1 {
		o = 1
	}
	return o
}
