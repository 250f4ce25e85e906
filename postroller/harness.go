// Package postroller provides in-process test doubles for publisher.Publisher
// and subscriber.Subscriber, so application code built on this module can be
// unit tested without binding real sockets — spec.md §2's "Test harness"
// leaf, grounded in original_source/posttroll/testing.py's
// patched_publisher/patched_subscriber_recv context managers.
package postroller

import (
	"errors"
	"sync"

	"github.com/pytroll/posttroll-go/message"
)

// ErrNotStarted is returned by FakePublisher.Send before Start is called,
// mirroring original_source's "Cannot 'send' before the publisher is
// started" check.
var ErrNotStarted = errors.New("postroller: cannot send before the publisher is started")

// FakePublisher records every message passed to Send instead of putting it on
// a wire, and optionally forwards it to any FakeSubscriber plugged into it
// via Pipe.
type FakePublisher struct {
	mu        sync.Mutex
	started   bool
	Published []*message.Message

	subs []*FakeSubscriber
}

// NewFakePublisher builds a stopped FakePublisher; call Start before Send.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Start marks the publisher ready to accept Send calls.
func (p *FakePublisher) Start() { p.started = true }

// Stop is a no-op, mirroring original_source's patched stop().
func (p *FakePublisher) Stop() {}

// Send returns ErrNotStarted before Start; once started, it records msg and
// delivers it to every piped subscriber.
func (p *FakePublisher) Send(msg *message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotStarted
	}
	p.Published = append(p.Published, msg)
	for _, s := range p.subs {
		s.deliver(msg)
	}
	return nil
}

// Pipe wires sub to receive every message this publisher sends from now on.
func (p *FakePublisher) Pipe(sub *FakeSubscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, sub)
}

// FakeSubscriber yields messages pushed to it by a piped FakePublisher (or
// injected directly via Inject), without any socket underneath it.
type FakeSubscriber struct {
	ch      chan *message.Message
	closeCh chan struct{}
	once    sync.Once
}

// NewFakeSubscriber builds a FakeSubscriber with the given channel buffer.
func NewFakeSubscriber(buffer int) *FakeSubscriber {
	return &FakeSubscriber{
		ch:      make(chan *message.Message, buffer),
		closeCh: make(chan struct{}),
	}
}

// Inject pushes msg directly into the subscriber's receive queue, bypassing
// any publisher, for tests that want to hand-craft a sequence of messages
// (original_source's patched_subscriber_recv(messages) equivalent).
func (s *FakeSubscriber) Inject(msg *message.Message) {
	select {
	case s.ch <- msg:
	case <-s.closeCh:
	}
}

func (s *FakeSubscriber) deliver(msg *message.Message) {
	s.Inject(msg)
}

// Recv blocks until a message arrives or the subscriber is closed, in which
// case it returns (nil, false) — mirroring interuptible_recv's "break when
// self.running is False" loop.
func (s *FakeSubscriber) Recv() (*message.Message, bool) {
	select {
	case msg := <-s.ch:
		return msg, true
	case <-s.closeCh:
		return nil, false
	}
}

// Stop closes the subscriber, unblocking any pending Recv.
func (s *FakeSubscriber) Stop() {
	s.once.Do(func() { close(s.closeCh) })
}
