// Package server exposes a dynamic pool to other local processes over TCP.
//
// Clients connect and exchange newline-delimited JSON messages: a submit
// request queues a job on the pool and returns its ID, a status request
// returns a consistent pool snapshot. The server never schedules anything
// itself; it is a thin producer in front of the pool's own loop.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/poolflow/poolflow/pkg/pool"
)

// DefaultAddress is the endpoint pool servers listen on unless configured
// otherwise.
const DefaultAddress = "localhost:7455"

const dialTimeout = 5 * time.Second

// Sentinel Errors returned by the server package.
var (
	ErrConnect = errors.New("cannot connect to pool server")
	ErrRemote  = errors.New("pool server error")
)

// request is one client message.
type request struct {
	Op      string        `json:"op"` // "submit" or "status"
	Cost    uint64        `json:"cost,omitempty"`
	Command pool.Command  `json:"command,omitempty"`
	Pre     *pool.Command `json:"pre,omitempty"`
	Post    *pool.Command `json:"post,omitempty"`
}

// response is one server message. Exactly one of ID, Status or Error is
// set.
type response struct {
	ID     string         `json:"id,omitempty"`
	Status *pool.Snapshot `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Server accepts submissions and status queries for a single dynamic pool.
type Server struct {
	pool *pool.Pool
	wg   sync.WaitGroup

	mutex sync.Mutex
	lis   net.Listener
}

// New creates a Server in front of the given pool. The pool's scheduling
// loop is the caller's responsibility; the server only feeds it.
func New(p *pool.Pool) *Server {
	return &Server{pool: p}
}

// Serve accepts connections on lis until Close is called. It blocks.
func (s *Server) Serve(lis net.Listener) error {
	s.mutex.Lock()
	s.lis = lis
	s.mutex.Unlock()
	slog.Info("pool server listening", "address", lis.Addr().String(), "pool", s.pool.ID())
	for {
		conn, err := lis.Accept()
		if err != nil {
			s.wg.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting connections. In-flight requests finish; jobs
// already handed to the pool are unaffected.
func (s *Server) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.lis == nil {
		return nil
	}
	err := s.lis.Close()
	s.lis = nil
	if err != nil {
		return fmt.Errorf("cannot close listener: %w", err)
	}
	return nil
}

// handle serves one connection until the client disconnects.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close() //nolint:errcheck // best effort on the way out
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Info("dropping connection", "remote", conn.RemoteAddr().String(), "err", err)
			}
			return
		}
		if err := enc.Encode(s.respond(req)); err != nil {
			slog.Error("cannot write response", "remote", conn.RemoteAddr().String(), "err", err)
			return
		}
	}
}

func (s *Server) respond(req request) response {
	switch req.Op {
	case "submit":
		spec := pool.JobSpec{Cost: req.Cost, Command: req.Command}
		if req.Pre != nil {
			spec.PreHook = pool.CommandPreHook(*req.Pre)
		}
		if req.Post != nil {
			spec.PostHook = pool.CommandPostHook(*req.Post)
		}
		id, err := s.pool.Submit(spec)
		if err != nil {
			return response{Error: err.Error()}
		}
		return response{ID: id}
	case "status":
		snap := s.pool.Snapshot()
		return response{Status: &snap}
	default:
		return response{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

// Submit sends one job to the pool server at address and returns the job
// ID. Optional pre and post commands run on the server around the job.
func Submit(address string, cost uint64, command pool.Command, pre, post *pool.Command) (string, error) {
	resp, err := roundTrip(address, request{Op: "submit", Cost: cost, Command: command, Pre: pre, Post: post})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Status fetches a pool snapshot from the server at address.
func Status(address string) (pool.Snapshot, error) {
	resp, err := roundTrip(address, request{Op: "status"})
	if err != nil {
		return pool.Snapshot{}, err
	}
	if resp.Status == nil {
		return pool.Snapshot{}, fmt.Errorf("%w: empty status response", ErrRemote)
	}
	return *resp.Status, nil
}

// roundTrip sends a single request and reads a single response on a fresh
// connection.
func roundTrip(address string, req request) (response, error) {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return response{}, fmt.Errorf("%w: %q: %w", ErrConnect, address, err)
	}
	defer conn.Close() //nolint:errcheck // read-only cleanup
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return response{}, fmt.Errorf("cannot send request to %q: %w", address, err)
	}
	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("cannot read response from %q: %w", address, err)
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return resp, nil
}
