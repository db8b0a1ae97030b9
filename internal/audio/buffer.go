package audio

// Buffer is the ordered byte queue shared by one source and one sink.
// Insertion order is transmission order; the buffer itself never drops,
// reorders or duplicates bytes. It has no capacity limit of its own: the
// pipeline owning it enforces one.
//
// Buffer is not safe for concurrent use. Exactly one owner touches it.
type Buffer struct {
	data []byte
	head int // index of the oldest byte in data
}

// NewBuffer creates an empty buffer with room for capacity bytes
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Len returns the number of queued bytes
func (b *Buffer) Len() int {
	return len(b.data) - b.head
}

// Push appends p at the tail
func (b *Buffer) Push(p []byte) {
	if len(p) == 0 {
		return
	}
	b.compact(len(p))
	b.data = append(b.data, p...)
}

// Write appends p at the tail. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Push(p)
	return len(p), nil
}

// PopUpTo removes and returns up to n bytes from the head. The result
// is shorter than n only when fewer bytes are queued.
func (b *Buffer) PopUpTo(n int) []byte {
	if n <= 0 || b.Len() == 0 {
		return nil
	}
	if n > b.Len() {
		n = b.Len()
	}
	out := make([]byte, n)
	copy(out, b.data[b.head:b.head+n])
	b.advance(n)
	return out
}

// Peek copies up to len(p) bytes from the head into p without removing
// them and returns the number of bytes copied
func (b *Buffer) Peek(p []byte) int {
	return copy(p, b.data[b.head:])
}

// DropFront discards the oldest n bytes and returns how many were
// actually discarded
func (b *Buffer) DropFront(n int) int {
	if n <= 0 {
		return 0
	}
	if n > b.Len() {
		n = b.Len()
	}
	b.advance(n)
	return n
}

// Clear empties the buffer
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.head = 0
}

func (b *Buffer) advance(n int) {
	b.head += n
	if b.head == len(b.data) {
		b.data = b.data[:0]
		b.head = 0
	}
}

// compact slides the live bytes to the start of the backing array when
// appending incoming bytes would otherwise grow it while more than half of
// it is already consumed.
func (b *Buffer) compact(incoming int) {
	if b.head == 0 || len(b.data)+incoming <= cap(b.data) {
		return
	}
	if b.head < cap(b.data)/2 {
		return
	}
	n := copy(b.data, b.data[b.head:])
	b.data = b.data[:n]
	b.head = 0
}
