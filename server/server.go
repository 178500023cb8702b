package server

import (
	"net/http"
)

// DefaultPort is the port the CLI serves on unless told otherwise.
const DefaultPort = 4680

// ExecueServer serves the RunService over Connect (HTTP, CBOR bodies).
type ExecueServer struct {
	pool *Pool
	mux  *http.ServeMux
}

// New creates an ExecueServer running programs on pool.
func New(pool *Pool) *ExecueServer {
	s := &ExecueServer{
		pool: pool,
		mux:  http.NewServeMux(),
	}

	path, handler := NewRunServiceHandler(NewRunService(pool))
	s.mux.Handle(path, handler)

	return s
}

// Handler returns the server's HTTP handler.
func (s *ExecueServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *ExecueServer) ListenAndServe(addr string) error {
	log.Noticef("execue run service listening on %s", addr)
	log.Noticef("  Connect (HTTP/CBOR): http://%s%s", addr, RunProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the worker pool.
func (s *ExecueServer) Stop() {
	s.pool.Stop()
}
