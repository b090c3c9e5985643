package bridge

import (
	"context"
	"sync"
)

// Conn carries whole frames between two bridge endpoints.
type Conn interface {
	// ReadFrame blocks until a frame arrives or the connection closes.
	ReadFrame() ([]byte, error)
	WriteFrame(ctx context.Context, data []byte) error
	Close() error
}

// Pipe returns two connected in-memory endpoints.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: ba, out: ab, done: done, once: once},
		&pipeConn{in: ab, out: ba, done: done, once: once}
}

// pipeConn is one end of a Pipe. Closing either end closes both.
type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

func (p *pipeConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, ErrClosed
	}
}

func (p *pipeConn) WriteFrame(ctx context.Context, data []byte) error {
	frame := append([]byte(nil), data...)
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
