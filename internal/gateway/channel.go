package gateway

import (
	"errors"
	"sync"
)

var (
	errChannelClosed = errors.New("channel closed")
	errChannelFull   = errors.New("send buffer full")
)

// wsChannel is the outbound queue of one websocket. The write pump drains it; Close stops the
// pump without closing the queue so late senders never panic.
type wsChannel struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newChannel(buffer int) *wsChannel {
	if buffer <= 0 {
		buffer = 256
	}
	return &wsChannel{send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (c *wsChannel) Send(frame []byte) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errChannelFull
	}
}

func (c *wsChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *wsChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
