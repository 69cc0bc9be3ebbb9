package resourceclient

import (
	"fmt"

	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// TimeoutError is raised when a REQ/REP round trip exceeds its
// deadline (spec.md §7 "Timeout"). The caller must not reuse the
// client's connection afterwards without calling an operation again:
// the client rebuilds it internally before returning this error.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("resourceclient: timed out waiting for a reply to %s", e.Op)
}

// InfeasibleError is raised when the broker reports a request as
// invalid: it could never be admitted under the current config
// (spec.md §7 "Infeasible"). It embeds both the request and the
// config so the caller can see why.
type InfeasibleError struct {
	Resource string
	Read     bool
	NumOpts  int
	DataSize int
	Config   wire.Config
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf(
		"resourceclient: request for resource %q (read=%v numopts=%d datasize=%d) can never be "+
			"granted under the current config %+v",
		e.Resource, e.Read, e.NumOpts, e.DataSize, e.Config,
	)
}

// ConfigApplyMismatchError is raised when the broker's echoed config
// after a "config" message doesn't match what was sent (spec.md §7).
type ConfigApplyMismatchError struct {
	Sent   wire.Config
	Echoed wire.Config
}

func (e *ConfigApplyMismatchError) Error() string {
	return fmt.Sprintf("resourceclient: server echoed %+v after we sent %+v", e.Echoed, e.Sent)
}
