package storage

import "sync"

// PacketQueue buffers outbound frames while a node is disconnected.
// It holds at most its capacity; pushing into a full queue evicts the
// oldest frame so the newest commands survive a long outage.
type PacketQueue struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
}

// NewPacketQueue returns a queue bounded to capacity frames.
// A non-positive capacity is treated as 1.
func NewPacketQueue(capacity int) *PacketQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &PacketQueue{capacity: capacity}
}

// Push appends frame and reports how many frames were evicted to make room.
func (q *PacketQueue) Push(frame []byte) (dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.frames) >= q.capacity {
		q.frames[0] = nil
		q.frames = q.frames[1:]
		dropped++
	}
	q.frames = append(q.frames, frame)
	return dropped
}

// Drain removes and returns every queued frame in FIFO order.
func (q *PacketQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.frames
	q.frames = nil
	return out
}

// Requeue puts frames back at the front, used when a flush is interrupted.
// Frames beyond capacity are dropped from the oldest end.
func (q *PacketQueue) Requeue(frames [][]byte) (dropped int) {
	if len(frames) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([][]byte, 0, len(frames)+len(q.frames))
	merged = append(merged, frames...)
	merged = append(merged, q.frames...)
	if over := len(merged) - q.capacity; over > 0 {
		merged = merged[over:]
		dropped = over
	}
	q.frames = merged
	return dropped
}

func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *PacketQueue) Cap() int { return q.capacity }
