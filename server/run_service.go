package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/execue/pkg/asm"
	"github.com/chazu/execue/vm"
)

// Procedure paths served by RunService.
const (
	RunServiceName       = "execue.v1.RunService"
	RunProcedure         = "/" + RunServiceName + "/Run"
	DisassembleProcedure = "/" + RunServiceName + "/Disassemble"
)

// RunRequest carries .exu source and its run configuration.
type RunRequest struct {
	Name     string           `cbor:"1,keyasint,omitempty"`
	Source   string           `cbor:"2,keyasint"`
	Options  map[string]int64 `cbor:"3,keyasint,omitempty"` // Profile options, see vm.ProfileFromOptions
	Bindings map[string]int   `cbor:"4,keyasint,omitempty"`
	Memory   map[int]int64    `cbor:"5,keyasint,omitempty"`
}

// RunResponse reports a finished run.
type RunResponse struct {
	ID        string           `cbor:"1,keyasint"`
	State     string           `cbor:"2,keyasint"`
	Steps     int              `cbor:"3,keyasint"`
	Fallbacks int              `cbor:"4,keyasint"`
	Terminal  string           `cbor:"5,keyasint,omitempty"`
	Faults    []vm.FaultRecord `cbor:"6,keyasint,omitempty"`
	Output    []string         `cbor:"7,keyasint,omitempty"`
	Dominions map[string]int   `cbor:"8,keyasint,omitempty"`
	Stack     []int64          `cbor:"9,keyasint,omitempty"`
}

// DisassembleRequest carries .exu source to list.
type DisassembleRequest struct {
	Source string `cbor:"1,keyasint"`
}

// DisassembleResponse holds the canonical listing of the source.
type DisassembleResponse struct {
	Listing string `cbor:"1,keyasint"`
}

// RunService assembles submitted programs and runs them on the pool.
type RunService struct {
	pool *Pool
}

// NewRunService creates a RunService backed by pool.
func NewRunService(pool *Pool) *RunService {
	return &RunService{pool: pool}
}

// Run assembles and executes a program.
func (s *RunService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	if strings.TrimSpace(msg.Source) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	program, err := asm.Parse(msg.Source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	profile, err := vm.ProfileFromOptions(msg.Options)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := s.pool.Do(ctx, Job{
		Name:     msg.Name,
		Program:  program,
		Profile:  profile,
		Bindings: msg.Bindings,
		Memory:   msg.Memory,
	})
	if err != nil {
		return nil, connect.NewError(errorCode(err), err)
	}

	resp := &RunResponse{
		ID:        result.ID,
		State:     result.Run.State.String(),
		Steps:     result.Run.Steps,
		Fallbacks: result.Run.Fallbacks,
		Faults:    result.Run.Faults,
		Output:    result.Output,
		Dominions: result.Dominions,
		Stack:     result.Stack,
	}
	if result.Run.Terminal != nil {
		resp.Terminal = result.Run.Terminal.Error()
	}
	return connect.NewResponse(resp), nil
}

// Disassemble assembles source and returns its listing.
func (s *RunService) Disassemble(
	_ context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	program, err := asm.Parse(req.Msg.Source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return connect.NewResponse(&DisassembleResponse{Listing: program.Disassemble()}), nil
}

// errorCode maps pool errors to Connect codes.
func errorCode(err error) connect.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, ErrPoolStopped):
		return connect.CodeUnavailable
	case errors.Is(err, vm.ErrOutOfBounds), errors.Is(err, vm.ErrInvalidProfile):
		return connect.CodeInvalidArgument
	default:
		return connect.CodeInternal
	}
}

// NewRunServiceHandler returns the mount path and handler for svc.
func NewRunServiceHandler(svc *RunService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	run := connect.NewUnaryHandler(RunProcedure, svc.Run, opts...)
	disasm := connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, opts...)

	return "/" + RunServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RunProcedure:
			run.ServeHTTP(w, r)
		case DisassembleProcedure:
			disasm.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RunClient calls a RunService.
type RunClient struct {
	run    *connect.Client[RunRequest, RunResponse]
	disasm *connect.Client[DisassembleRequest, DisassembleResponse]
}

// NewRunClient creates a client for the service at baseURL.
func NewRunClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RunClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(cborCodec{})}, opts...)
	return &RunClient{
		run:    connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...),
		disasm: connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, opts...),
	}
}

// Run executes req remotely.
func (c *RunClient) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Disassemble lists source remotely.
func (c *RunClient) Disassemble(ctx context.Context, source string) (string, error) {
	resp, err := c.disasm.CallUnary(ctx, connect.NewRequest(&DisassembleRequest{Source: source}))
	if err != nil {
		return "", err
	}
	return resp.Msg.Listing, nil
}
