package bus

// Task lifecycle topics.
const (
	TopicTaskStateChanged = "task.state_changed"
	TopicTaskCreated      = "task.created"
	TopicTaskCompleted    = "task.completed"
	TopicTaskCancelled    = "task.cancelled"
)

// Escrow fund movement topics.
const (
	TopicEscrowLocked   = "escrow.locked"
	TopicEscrowReleased = "escrow.released"
	TopicEscrowRefunded = "escrow.refunded"
)

// Bid pool topics.
const (
	TopicBidPlaced   = "bid.placed"
	TopicBidAccepted = "bid.accepted"
	TopicBidExpired  = "bid.expired"
)

// Reputation topic.
const (
	TopicReputationAdjusted = "reputation.adjusted"
)

// TaskStateChangedEvent is published on every committed status transition.
type TaskStateChangedEvent struct {
	TaskID    string
	Actor     string
	OldStatus string
	NewStatus string
}

// EscrowEvent is published when escrowed funds are locked, released or
// refunded. Amount is a decimal string.
type EscrowEvent struct {
	TaskID    string
	Ref       string
	Principal string
	Amount    string
	Milestone string
}

// BidEvent is published when a bid enters or leaves the pool.
type BidEvent struct {
	TaskID string
	BidID  string
	Bidder string
}

// ReputationEvent is published when a credit score changes.
type ReputationEvent struct {
	Principal string
	TaskID    string
	Change    int
	NewScore  int
	Reason    string
}
