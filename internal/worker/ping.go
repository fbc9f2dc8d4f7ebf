package worker

import (
	"context"
)

// Ping is the synchronous worker: its Start call completes the response
// immediately, with no separate goroutine.
type Ping struct {
	baseWorker
}

// NewPing constructs a Ping worker; it ignores msg contents.
func NewPing(msg map[string]interface{}, deps Deps) (Worker, error) {
	return &Ping{baseWorker: newBaseWorker()}, nil
}

func (p *Ping) Start(ctx context.Context) {
	p.setResponse(Response{Status: 0, Details: map[string]interface{}{"response": "pong"}})
}
