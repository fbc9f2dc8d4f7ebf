package worker

import (
	"context"
	"time"

	"github.com/snafus/cephsum-server/internal/errs"
)

// Wait is an asynchronous worker used to exercise the server's keep-alive
// and timeout behavior: it sleeps for the requested delay, then responds.
type Wait struct {
	baseWorker
	delay time.Duration
}

// NewWait constructs a Wait worker from a {"delay": <seconds>} request.
func NewWait(msg map[string]interface{}, deps Deps) (Worker, error) {
	seconds, ok := msg["delay"].(float64)
	if !ok {
		return nil, errs.New(errs.KindBadPath, "wait requires a numeric delay field")
	}
	return &Wait{baseWorker: newBaseWorker(), delay: time.Duration(seconds * float64(time.Second))}, nil
}

func (w *Wait) Start(ctx context.Context) {
	go func() {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			w.setResponse(Response{Status: 1, Error: "cancelled"})
			return
		}
		w.setResponse(Response{
			Status: 0,
			Details: map[string]interface{}{
				"response": "wait",
				"delay":    w.delay.Seconds(),
			},
		})
	}()
}
