package transport

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/dvid-broker/resourcebroker/internal/wire"
)

// Engine is the subset of *broker.Engine the REQ_EP listener drives.
// Kept as an interface so transport tests can substitute a fake.
type Engine interface {
	Request(ctx context.Context, resource string, read bool, numOpts, dataSize int) (wire.RequestReply, error)
	Hold(ctx context.Context, id int64) (wire.EmptyReply, error)
	Release(ctx context.Context, id int64) (wire.EmptyReply, error)
	Reconfigure(ctx context.Context, cfg wire.Config) (wire.Config, error)
	ReadConfig(ctx context.Context) (wire.ReadConfigReply, error)
}

// ReqServer is REQ_EP: a TCP listener where every accepted connection
// is treated as one client's persistent REQ socket -- strict
// one-request/one-reply framing per spec.md §4.1, enforced per
// connection instead of per message, since a real client reuses its
// socket across many requests.
type ReqServer struct {
	ln        net.Listener
	engine    Engine
	validator *wire.Validator // non-nil only in --debug mode
	log       logrus.FieldLogger
}

// NewReqServer listens on addr and returns a server ready to Serve.
func NewReqServer(addr string, engine Engine, validator *wire.Validator, log logrus.FieldLogger) (*ReqServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReqServer{ln: ln, engine: engine, validator: validator, log: log}, nil
}

// Addr returns the bound address, useful when addr was "host:0".
func (s *ReqServer) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *ReqServer) Close() error { return s.ln.Close() }

// Serve accepts connections until ctx is canceled or the listener is
// closed.
func (s *ReqServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *ReqServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := newDecoder(conn)
	enc := newEncoder(conn)

	for {
		var raw jsonRawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.WithError(err).Debug("req_ep connection closed")
			}
			return
		}

		if s.validator != nil {
			if err := s.validateDebug(raw); err != nil {
				s.log.WithError(err).Error("message failed debug schema validation")
				return
			}
		}

		var msg wire.InMessage
		if err := jsonLib.Unmarshal(raw, &msg); err != nil {
			s.log.WithError(err).Error("malformed message")
			return
		}

		reply, err := s.dispatch(ctx, msg)
		if err != nil {
			// The transport MUST reply exactly once per inbound
			// message (spec.md §4.1); a failure to produce one is
			// treated as fatal to this connection.
			s.log.WithError(err).Error("failed to produce reply; closing connection")
			return
		}
		if err := enc.Encode(reply); err != nil {
			s.log.WithError(err).Error("failed to write reply; closing connection")
			return
		}
	}
}

func (s *ReqServer) dispatch(ctx context.Context, msg wire.InMessage) (any, error) {
	switch msg.Type {
	case wire.TypeRequest:
		return s.engine.Request(ctx, msg.Resource, msg.Read, msg.NumOpts, msg.DataSize)
	case wire.TypeHold:
		return s.engine.Hold(ctx, msg.ID)
	case wire.TypeRelease:
		return s.engine.Release(ctx, msg.ID)
	case wire.TypeConfig:
		if msg.Config == nil {
			return wire.EmptyReply{}, nil
		}
		return s.engine.Reconfigure(ctx, *msg.Config)
	case wire.TypeReadConfig:
		return s.engine.ReadConfig(ctx)
	default:
		s.log.WithField("type", msg.Type).Error("unknown message type")
		return wire.EmptyReply{}, nil
	}
}

func (s *ReqServer) validateDebug(raw jsonRawMessage) error {
	v, err := jsonschemaUnmarshal(raw)
	if err != nil {
		return err
	}
	return s.validator.ValidateReceived(v)
}
