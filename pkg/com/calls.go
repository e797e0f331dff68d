package com

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed  = errors.New("connection closed")
	ErrTimeout = errors.New("timeout")
)

// Calls keeps track of outstanding requests waiting for
// their responses matched by some request id.
type Calls[R any] struct {
	queue   *Map[string, *call[R]]
	timeout time.Duration
}

type call[R any] struct {
	done     chan struct{}
	err      error
	response R
}

func NewCalls[R any](timeout time.Duration) *Calls[R] {
	return &Calls[R]{queue: NewMap[string, *call[R]](), timeout: timeout}
}

// Call registers a new request with the id, fires the send function
// and blocks until the response, the timeout, the context cancel or the drain.
// The call is always removed from the queue on return.
func (c *Calls[R]) Call(ctx context.Context, id string, send func() error) (r R, err error) {
	task := &call[R]{done: make(chan struct{})}
	c.queue.Put(id, task)
	if err = send(); err != nil {
		c.queue.Remove(id)
		return r, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-task.done:
		return task.response, task.err
	case <-timer.C:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if _, ok := c.queue.Pop(id); !ok {
		// resolved concurrently with the timeout
		<-task.done
		return task.response, task.err
	}
	return r, err
}

// Resolve completes the call with the id if there is one.
func (c *Calls[R]) Resolve(id string, response R) bool {
	if id == "" {
		return false
	}
	task, ok := c.queue.Pop(id)
	if !ok {
		return false
	}
	task.response = response
	close(task.done)
	return true
}

// Pending returns the number of outstanding calls.
func (c *Calls[_]) Pending() int { return c.queue.Len() }

// Drain cancels all what's left in the queue with the err.
func (c *Calls[_]) Drain(err error) {
	for _, task := range c.queue.Drain() {
		task.err = err
		close(task.done)
	}
}
