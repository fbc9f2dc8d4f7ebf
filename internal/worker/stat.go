package worker

import (
	"context"

	"github.com/snafus/cephsum-server/internal/errs"
)

// Stat is an asynchronous worker reporting the modification time of an
// object's chunk zero.
type Stat struct {
	baseWorker
	pool, object string
	deps         Deps
}

// NewStat constructs a Stat worker from a {"path": "<lfn>"} request.
func NewStat(msg map[string]interface{}, deps Deps) (Worker, error) {
	path, ok := msg["path"].(string)
	if !ok || path == "" {
		return nil, errs.New(errs.KindBadPath, "stat requires a path field")
	}
	binding, err := deps.PathMapper.Parse(path)
	if err != nil {
		return nil, err
	}
	return &Stat{baseWorker: newBaseWorker(), pool: binding.Pool, object: binding.Object, deps: deps}, nil
}

func (s *Stat) Start(ctx context.Context) {
	go func() {
		info, err := s.deps.Actions.Store.Stat(ctx, s.pool, s.object)
		if err != nil {
			s.setResponse(Response{Status: 1, Error: err.Error()})
			return
		}
		s.setResponse(Response{
			Status: 0,
			Details: map[string]interface{}{
				"response": "stat",
				"stat":     info.ModTime.Unix(),
				"size":     info.Size,
			},
		})
	}()
}
