package eventq

import "context"

// Event is one unit of deferred work. Events with the same Key run on the
// same partition, in publish order.
type Event struct {
	Topic   string      `json:"topic"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload"`
}

// Handler processes events of one topic.
type Handler func(event *Event) error

type partition struct {
	id      int
	queue   chan *Event
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
}
