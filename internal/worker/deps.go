package worker

import (
	"github.com/snafus/cephsum-server/internal/action"
	"github.com/snafus/cephsum-server/internal/pathmap"
)

// Deps are the dependencies shared by every worker constructor: the
// checksum action layer, the path mapper, and the defaults a request can
// omit.
type Deps struct {
	Actions         *action.Actions
	PathMapper      *pathmap.Parser
	DefaultXattrKey string
	ReadBlockSize   int64
}
