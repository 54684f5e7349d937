package internal

import (
	"errors"
	"fmt"
)

// ErrOverflow is returned when a write would take a Buffer past its limit.
var ErrOverflow = errors.New("buffer limit exceeded")

// Buffer is a growable byte buffer with a hard upper bound. Writes past the
// bound fail instead of truncating.
type Buffer struct {
	data  []byte
	limit int
}

// NewBuffer returns an empty buffer that refuses to grow beyond limit bytes.
// A limit of zero or less means unbounded.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

func (b *Buffer) room(n int) error {
	if b.limit > 0 && len(b.data)+n > b.limit {
		return fmt.Errorf("%w: %d + %d > %d", ErrOverflow, len(b.data), n, b.limit)
	}
	return nil
}

// WriteByte appends one byte.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.room(1); err != nil {
		return err
	}
	b.data = append(b.data, c)
	return nil
}

// Write appends p entirely or not at all.
func (b *Buffer) Write(p []byte) (int, error) {
	if err := b.room(len(p)); err != nil {
		return 0, err
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// Fill appends n copies of c.
func (b *Buffer) Fill(c byte, n int) error {
	if n <= 0 {
		return nil
	}
	if err := b.room(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		b.data = append(b.data, c)
	}
	return nil
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the written bytes; the slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Truncate drops the last n bytes, or everything when fewer were written.
func (b *Buffer) Truncate(n int) {
	if n <= 0 {
		return
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data = b.data[:len(b.data)-n]
}
