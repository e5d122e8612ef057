// Package confirm decouples a destructive action from the prompt that
// gates it. A caller posts a Request; the UI later resolves or cancels it.
package confirm

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNoPending = errors.New("no pending confirmation")
	ErrCancelled = errors.New("confirmation cancelled")
)

type Action string

const (
	ActionLogout        Action = "logout"
	ActionDeleteAccount Action = "delete_account"
)

type Request struct {
	Action  Action
	Message string

	run  func(context.Context) error
	done chan error
}

// Wait blocks until the request is resolved or cancelled, or ctx ends.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending holds at most one request. Posting a new request cancels the
// previous one.
type Pending struct {
	mu  sync.Mutex
	cur *Request
}

func (p *Pending) Post(action Action, message string, run func(context.Context) error) *Request {
	req := &Request{
		Action:  action,
		Message: message,
		run:     run,
		done:    make(chan error, 1),
	}
	p.mu.Lock()
	prev := p.cur
	p.cur = req
	p.mu.Unlock()
	if prev != nil {
		prev.done <- ErrCancelled
	}
	return req
}

func (p *Pending) Current() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// Resolve runs the pending action and reports its result to the waiter.
func (p *Pending) Resolve(ctx context.Context) error {
	req := p.take()
	if req == nil {
		return ErrNoPending
	}
	err := req.run(ctx)
	req.done <- err
	return err
}

func (p *Pending) Cancel() error {
	req := p.take()
	if req == nil {
		return ErrNoPending
	}
	req.done <- ErrCancelled
	return nil
}

func (p *Pending) take() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	req := p.cur
	p.cur = nil
	return req
}
