package invoke

import "bytes"

// cappedBuffer keeps at most limit bytes and counts what it drops. It always
// reports a full write so the copying goroutine in os/exec keeps draining the
// pipe and the child never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	discarded int64
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit <= 0 {
		return b.buf.Write(p)
	}

	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		b.discarded += int64(n)
		return n, nil
	}
	if int64(n) > remaining {
		b.buf.Write(p[:remaining])
		b.discarded += int64(n) - remaining
		return n, nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte { return b.buf.Bytes() }

func (b *cappedBuffer) String() string { return b.buf.String() }

func (b *cappedBuffer) Overflowed() bool { return b.discarded > 0 }

// tailBuffer keeps the last limit bytes written to it. Diagnostics such as
// tracebacks come at the end of stderr, so the head is what gets dropped.
type tailBuffer struct {
	buf       []byte
	limit     int
	discarded int64
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= b.limit {
		b.discarded += int64(len(b.buf) + n - b.limit)
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.discarded += int64(over)
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string { return string(b.buf) }

func (b *tailBuffer) Truncated() bool { return b.discarded > 0 }
