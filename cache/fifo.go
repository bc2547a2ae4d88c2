package cache

// minCompactLen is queue length, after which evicted prefix of keys slice may be reused.
const minCompactLen = 32

// FIFO evicts keys in order they were touched.
//
// NOTE: touches are not deduplicated. Every Touch call adds one more element,
// so key touched twice will be returned from Evict twice, and key evicted or deleted
// earlier can be returned again. Store treats such stale keys as no-op evictions.
// It is not clear yet whether this "touch history" behaviour is wanted, or FIFO
// should keep only first insertion of a key. Keep it as is until that is decided.
type FIFO struct {
	// keys[head:] are queued touches, oldest first.
	keys []string
	head int
}

var _ Policy = (*FIFO)(nil)

func NewFIFO() *FIFO { return &FIFO{} }

func (f *FIFO) Touch(key string) {
	f.keys = append(f.keys, key)
}

func (f *FIFO) Evict() (key string, err error) {
	if f.Len() == 0 {
		err = ErrEmptyPolicy
		return
	}
	key = f.keys[f.head]
	f.keys[f.head] = "" // Release string memory.
	f.head++
	f.compact()
	return
}

func (f *FIFO) Len() int { return len(f.keys) - f.head }

// compact moves queued keys to the slice start, when evicted prefix is large enough.
func (f *FIFO) compact() {
	if f.head == len(f.keys) {
		f.keys = f.keys[:0]
		f.head = 0
		return
	}
	if len(f.keys) < minCompactLen || f.head < len(f.keys)/2 {
		return
	}
	n := copy(f.keys, f.keys[f.head:])
	clear(f.keys[n:])
	f.keys = f.keys[:n]
	f.head = 0
}
