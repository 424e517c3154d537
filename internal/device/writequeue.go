package device

// WriteKind distinguishes characteristic writes from descriptor writes.
type WriteKind int

const (
	CharacteristicWrite WriteKind = iota
	DescriptorWrite
)

func (k WriteKind) String() string {
	switch k {
	case CharacteristicWrite:
		return "characteristic"
	case DescriptorWrite:
		return "descriptor"
	default:
		return "unknown"
	}
}

// PendingWrite is a GATT write waiting for its turn on the link.
type PendingWrite struct {
	Kind    WriteKind
	Handle  Handle
	Payload []byte
}

// WriteQueue serializes GATT writes so that at most one is outstanding at a
// time. Writes are submitted in FIFO order; the next one is submitted only
// after OnWriteCompleted reports the in-flight one finished, successfully or not.
//
// The queue remembers the in-flight write and accepts only a completion for the
// same kind and handle. Adapters issue fresh handles on every discovery, so a
// late completion from a link that has since been replaced never matches.
//
// WriteQueue is not safe for concurrent use. It is owned by the session loop.
type WriteQueue struct {
	submit   func(PendingWrite)
	pending  []PendingWrite
	head     PendingWrite
	inFlight bool
}

// NewWriteQueue creates a queue that hands each write to submit when it reaches the head.
func NewWriteQueue(submit func(PendingWrite)) *WriteQueue {
	return &WriteQueue{submit: submit}
}

// Enqueue appends op. If nothing is in flight it is submitted immediately.
func (q *WriteQueue) Enqueue(op PendingWrite) {
	q.pending = append(q.pending, op)
	if !q.inFlight {
		q.next()
	}
}

// OnWriteCompleted marks the in-flight write finished and submits the next one.
// It reports false, and changes nothing, when no write is in flight or the
// completion is for a different kind or handle.
func (q *WriteQueue) OnWriteCompleted(kind WriteKind, h Handle) bool {
	if !q.inFlight || q.head.Kind != kind || q.head.Handle != h {
		return false
	}
	q.inFlight = false
	q.head = PendingWrite{}
	q.next()
	return true
}

// InFlight reports whether a write has been submitted and not yet completed.
func (q *WriteQueue) InFlight() bool {
	return q.inFlight
}

// Len returns the number of writes waiting behind the in-flight one.
func (q *WriteQueue) Len() int {
	return len(q.pending)
}

// Reset drops all waiting writes and forgets the in-flight one. Used when the
// link changes.
func (q *WriteQueue) Reset() {
	q.pending = nil
	q.head = PendingWrite{}
	q.inFlight = false
}

func (q *WriteQueue) next() {
	if len(q.pending) == 0 {
		return
	}
	op := q.pending[0]
	q.pending[0] = PendingWrite{}
	q.pending = q.pending[1:]
	q.head = op
	q.inFlight = true
	q.submit(op)
}
