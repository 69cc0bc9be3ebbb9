package resourceclient

import "context"

// Accessor is the subset of Client's API that callers typically
// depend on. Both *Client and the value returned by Dummy implement
// it, so code that wants resource admission never has to special-case
// "no broker configured" -- the Go analogue of the original client's
// _DummyClient fallback.
type Accessor interface {
	Access(ctx context.Context, resource string, isRead bool, numOpts, dataSize int) (*Lease, error)
	Do(ctx context.Context, resource string, isRead bool, numOpts, dataSize int, fn func(ctx context.Context) error) error
}

var _ Accessor = (*Client)(nil)
var _ Accessor = dummy{}

// dummy implements Accessor without ever dialing anything: Access
// grants immediately and the returned Lease's Release is a no-op.
type dummy struct{}

// Dummy returns an Accessor that grants every request immediately and
// never talks to a broker, for use when no broker is configured.
func Dummy() Accessor { return dummy{} }

func (dummy) Access(context.Context, string, bool, int, int) (*Lease, error) {
	return &Lease{}, nil
}

func (dummy) Do(ctx context.Context, _ string, _ bool, _, _ int, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
