package worker

import (
	"context"
	"strings"

	"github.com/snafus/cephsum-server/internal/action"
	"github.com/snafus/cephsum-server/internal/cksrecord"
	"github.com/snafus/cephsum-server/internal/errs"
)

// Cksum is the asynchronous worker driving the checksum action layer: it
// maps the request path to (pool, object) and dispatches to one of the
// five action-layer operations named by the request's action field.
type Cksum struct {
	baseWorker
	pool, object string
	actionName   string
	algType      string
	deps         Deps
}

// NewCksum constructs a Cksum worker from a
// {"path", "action", "algtype"} request.
func NewCksum(msg map[string]interface{}, deps Deps) (Worker, error) {
	path, ok := msg["path"].(string)
	if !ok || path == "" {
		return nil, errs.New(errs.KindBadPath, "cksum requires a path field")
	}
	actionName, _ := msg["action"].(string)
	algType, _ := msg["algtype"].(string)
	if algType == "" {
		algType = "adler32"
	}

	binding, err := deps.PathMapper.Parse(path)
	if err != nil {
		return nil, err
	}

	return &Cksum{
		baseWorker: newBaseWorker(),
		pool:       binding.Pool,
		object:     binding.Object,
		actionName: strings.ToLower(actionName),
		algType:    strings.ToLower(algType),
		deps:       deps,
	}, nil
}

func (c *Cksum) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Cksum) run(ctx context.Context) {
	if c.algType != "adler32" {
		c.setResponse(Response{Status: 1, Error: "only adler32 is supported"})
		return
	}

	xattrKey := c.deps.DefaultXattrKey
	readBlockSize := c.deps.ReadBlockSize

	switch c.actionName {
	case "inget", "check":
		rec, err := c.deps.Actions.Inget(ctx, c.pool, c.object, readBlockSize, xattrKey)
		c.respondRecord(rec, err)
	case "verify":
		result, err := c.deps.Actions.Verify(ctx, c.pool, c.object, readBlockSize, xattrKey, false)
		c.respondVerify(result, err)
	case "get":
		rec, err := c.deps.Actions.Get(ctx, c.pool, c.object, readBlockSize, xattrKey)
		c.respondRecord(rec, err)
	case "metaonly":
		rec, err := c.deps.Actions.Metaonly(ctx, c.pool, c.object, xattrKey)
		c.respondRecord(rec, err)
	case "fileonly":
		rec, err := c.deps.Actions.Fileonly(ctx, c.pool, c.object, readBlockSize, xattrKey)
		c.respondRecord(rec, err)
	default:
		c.setResponse(Response{Status: 1, Error: "action not implemented: " + c.actionName})
	}
}

func (c *Cksum) respondRecord(rec *cksrecord.Record, err error) {
	if err != nil {
		c.setResponse(Response{Status: 1, Error: err.Error()})
		return
	}
	c.setResponse(Response{
		Status: 0,
		Details: map[string]interface{}{
			"response": "cksum",
			"digest":   rec.HexValue(),
		},
	})
}

func (c *Cksum) respondVerify(result *action.VerifyResult, err error) {
	if err != nil {
		c.setResponse(Response{Status: 1, Error: err.Error()})
		return
	}
	c.setResponse(Response{
		Status: 0,
		Details: map[string]interface{}{
			"response": "cksum",
			"matched":  result.Matched,
		},
	})
}
