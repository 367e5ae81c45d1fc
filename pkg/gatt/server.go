// Package gatt provides an in-process attribute transport for the telephone
// bearer service: a service table, per-connection subscriptions and a
// read/write surface. It stands in for a real attribute-protocol stack in
// tests and examples.
package gatt

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/muxable/tbs/pkg/tbs"
	"go.uber.org/zap"
)

// Handler is the server side the transport forwards client operations to.
// *tbs.Server implements it.
type Handler interface {
	ReadAttribute(conn tbs.Conn, handle uint16, c tbs.Characteristic, offset int) ([]byte, error)
	WriteAttribute(conn tbs.Conn, handle uint16, c tbs.Characteristic, offset int, value []byte) error
	SetClientConfig(handle uint16, c tbs.Characteristic, notify bool)
}

type subscription struct {
	conn   tbs.Conn
	handle uint16
	char   tbs.Characteristic
	fn     func(value []byte)
}

type Server struct {
	mu         sync.Mutex
	handler    Handler
	nextHandle uint16
	services   map[uint16]bool // handle -> is aggregate service
	subs       map[string]*subscription
}

func NewServer() *Server {
	return &Server{
		nextHandle: 0x0010,
		services:   make(map[uint16]bool),
		subs:       make(map[string]*subscription),
	}
}

// Handle installs the server the transport forwards reads and writes to.
func (s *Server) Handle(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *Server) AddService(gtbs bool) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := s.nextHandle
	s.nextHandle += 0x0010
	s.services[handle] = gtbs
	return handle, nil
}

func (s *Server) RemoveService(handle uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[handle]; !ok {
		return errors.New("unknown service handle")
	}
	delete(s.services, handle)
	for id, sub := range s.subs {
		if sub.handle == handle {
			delete(s.subs, id)
		}
	}
	return nil
}

// Subscribe registers a notification callback for one characteristic of one
// service and returns a token for Unsubscribe. The first subscriber of a
// characteristic enables server-side notifications for it.
func (s *Server) Subscribe(conn tbs.Conn, handle uint16, c tbs.Characteristic, fn func([]byte)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[handle]; !ok {
		return "", errors.New("unknown service handle")
	}
	id := uuid.NewString()
	first := s.countSubs(handle, c) == 0
	s.subs[id] = &subscription{conn: conn, handle: handle, char: c, fn: fn}
	if first && s.handler != nil {
		s.handler.SetClientConfig(handle, c, true)
	}
	return id, nil
}

func (s *Server) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return
	}
	delete(s.subs, id)
	if s.countSubs(sub.handle, sub.char) == 0 && s.handler != nil {
		s.handler.SetClientConfig(sub.handle, sub.char, false)
	}
}

// countSubs is called with mu held.
func (s *Server) countSubs(handle uint16, c tbs.Characteristic) int {
	n := 0
	for _, sub := range s.subs {
		if sub.handle == handle && sub.char == c {
			n++
		}
	}
	return n
}

func (s *Server) Notify(handle uint16, c tbs.Characteristic, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.handle == handle && sub.char == c {
			sub.fn(value)
		}
	}
	return nil
}

func (s *Server) NotifyConn(conn tbs.Conn, handle uint16, c tbs.Characteristic, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.conn == conn && sub.handle == handle && sub.char == c {
			sub.fn(value)
		}
	}
	return nil
}

// Read performs a client read against the installed handler.
func (s *Server) Read(conn tbs.Conn, handle uint16, c tbs.Characteristic) ([]byte, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil, errors.New("no handler installed")
	}
	return h.ReadAttribute(conn, handle, c, 0)
}

// Write performs a client write against the installed handler.
func (s *Server) Write(conn tbs.Conn, handle uint16, c tbs.Characteristic, value []byte) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return errors.New("no handler installed")
	}
	zap.L().Debug("client write", zap.Uint16("handle", handle), zap.Int("len", len(value)))
	return h.WriteAttribute(conn, handle, c, 0, value)
}
