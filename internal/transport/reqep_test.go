package transport_test

import (
	"bufio"
	"context"
	"net"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/assert"

	"github.com/dvid-broker/resourcebroker/internal/transport"
	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// fakeEngine is a minimal transport.Engine double so these tests
// exercise only the wire framing, not admission logic (covered in
// internal/broker).
type fakeEngine struct{}

func (fakeEngine) Request(_ context.Context, resource string, read bool, numOpts, dataSize int) (wire.RequestReply, error) {
	return wire.RequestReply{ID: 7, Available: true}, nil
}

func (fakeEngine) Hold(_ context.Context, id int64) (wire.EmptyReply, error) {
	return wire.EmptyReply{}, nil
}

func (fakeEngine) Release(_ context.Context, id int64) (wire.EmptyReply, error) {
	return wire.EmptyReply{}, nil
}

func (fakeEngine) Reconfigure(_ context.Context, cfg wire.Config) (wire.Config, error) {
	return cfg, nil
}

func (fakeEngine) ReadConfig(_ context.Context) (wire.ReadConfigReply, error) {
	return wire.NewReadConfigReply(wire.DefaultConfig), nil
}

func TestReqServerRepliesExactlyOncePerMessage(t *testing.T) {
	srv, err := transport.NewReqServer("127.0.0.1:0", fakeEngine{}, nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	json := jsoniter.ConfigCompatibleWithStandardLibrary
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(bufio.NewReader(conn))

	require.NoError(t, enc.Encode(wire.InMessage{Type: wire.TypeRequest, Resource: "R", Read: true, NumOpts: 1, DataSize: 1}))
	var reply wire.RequestReply
	require.NoError(t, dec.Decode(&reply))
	require.Equal(t, wire.RequestReply{ID: 7, Available: true}, reply)

	require.NoError(t, enc.Encode(wire.InMessage{Type: wire.TypeHold, ID: 7}))
	var empty map[string]any
	require.NoError(t, dec.Decode(&empty))
	assert.Equal(t, len(empty), 0)
}
