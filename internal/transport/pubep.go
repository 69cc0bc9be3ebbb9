package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// PubServer is PUB_EP: every connected subscriber receives the ASCII
// line "<id> 1\n" for every id the engine publishes, broadcast to all
// subscribers (spec.md §4.1: "Subscribers filter by stringified id" --
// here that filtering happens client-side, since a plain TCP fan-out
// has no subscribe-by-topic primitive of its own).
type PubServer struct {
	ln  net.Listener
	log logrus.FieldLogger

	mu   sync.Mutex
	subs map[net.Conn]struct{}
}

// NewPubServer listens on addr and returns a server ready to Serve.
func NewPubServer(addr string, log logrus.FieldLogger) (*PubServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PubServer{ln: ln, log: log, subs: make(map[net.Conn]struct{})}, nil
}

// Addr returns the bound address.
func (s *PubServer) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections and drops current subscribers.
func (s *PubServer) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.subs {
		_ = c.Close()
		delete(s.subs, c)
	}
	s.mu.Unlock()
	return err
}

// Serve accepts subscriber connections until ctx is canceled.
func (s *PubServer) Serve(ctx context.Context) error {
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
		s.mu.Lock()
		s.subs[conn] = struct{}{}
		s.mu.Unlock()
		// A subscriber never sends anything; detect its disconnect by
		// blocking on a read that only returns on EOF/reset.
		go s.watchForDisconnect(conn)
	}
}

func (s *PubServer) watchForDisconnect(conn net.Conn) {
	buf := make([]byte, 1)
	_, _ = conn.Read(buf)
	s.mu.Lock()
	delete(s.subs, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Publish implements broker.Publisher: it broadcasts the grant line to
// every currently-connected subscriber. Publish is lossy by design
// (spec.md §4.3) -- a write failure just drops that subscriber, it
// never blocks or errors back to the caller.
func (s *PubServer) Publish(id int64) {
	line := []byte(fmt.Sprintf("%d 1\n", id))

	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.subs))
	for c := range s.subs {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if _, err := c.Write(line); err != nil {
			s.mu.Lock()
			delete(s.subs, c)
			s.mu.Unlock()
			_ = c.Close()
		}
	}
}
