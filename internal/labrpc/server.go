package labrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/honest-lab/internal/cycle"
	"github.com/danielpatrickdp/honest-lab/internal/lab"
	"github.com/danielpatrickdp/honest-lab/internal/noise"
	"github.com/danielpatrickdp/honest-lab/internal/observation"
	"github.com/danielpatrickdp/honest-lab/internal/proposal"
)

// #region messages

// RunRequest asks the lab to execute one proposal.
type RunRequest struct {
	RunID           string            `json:"run_id"`
	Cycle           cycle.Cycle       `json:"cycle"`
	Proposal        proposal.Proposal `json:"proposal"`
	ReferenceFloors noise.Floors      `json:"reference_floors,omitempty"`
}

// RunResponse is everything a policy may see of a run.
type RunResponse struct {
	RunID       string                  `json:"run_id"`
	Digest      string                  `json:"digest"`
	Observation observation.Observation `json:"observation"`
	Warnings    []proposal.Warning      `json:"warnings,omitempty"`
	FloorSource string                  `json:"floor_source"`
	Instant     bool                    `json:"instant"`
	Suspects    []lab.Suspect           `json:"suspects,omitempty"`
}

// Description lists what a proposal may name. Mechanism axes are withheld.
type Description struct {
	Compounds []string              `json:"compounds"`
	Vehicles  []string              `json:"vehicles"`
	CellLines []string              `json:"cell_lines"`
	Channels  []observation.Channel `json:"channels"`
}

// #endregion messages

// #region server

// Server serves one lab runner. Run ids are single-use: a repeated id would
// replay the same random streams.
type Server struct {
	runner *lab.Runner
	log    *slog.Logger
	mu     sync.Mutex
	seen   map[string]bool
}

// NewServer creates a server over runner. A nil logger discards.
func NewServer(runner *lab.Runner, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{runner: runner, log: log, seen: map[string]bool{}}
}

// RunProposal executes a proposal and returns its sealed observation.
func (s *Server) RunProposal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeRunRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.RunID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	if err := req.Proposal.Validate(); err != nil {
		if errors.Is(err, proposal.ErrBudgetExceeded) {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	if s.seen[req.RunID] {
		s.mu.Unlock()
		return nil, status.Errorf(codes.AlreadyExists, "run %s already executed", req.RunID)
	}
	s.seen[req.RunID] = true
	s.mu.Unlock()

	res, err := s.runner.Execute(ctx, lab.Request{
		RunID:           req.RunID,
		Cycle:           req.Cycle,
		Proposal:        req.Proposal,
		ReferenceFloors: req.ReferenceFloors,
	})
	if err != nil {
		s.log.Warn("run failed", "run", req.RunID, "error", err)
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.log.Info("run served", "run", req.RunID, "cycle", int(req.Cycle), "wells", len(req.Proposal.Wells))

	return toStruct(RunResponse{
		RunID:       req.RunID,
		Digest:      strconv.FormatUint(res.Table.Digest(), 16),
		Observation: res.Observation,
		Warnings:    res.Warnings,
		FloorSource: res.FloorSource,
		Instant:     res.Instant,
		Suspects:    res.Suspects,
	})
}

// Describe lists compounds, vehicles, cell lines and channels.
func (s *Server) Describe(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	params := s.runner.Params()
	d := Description{Channels: observation.Channels}
	for name, c := range params.Compounds {
		d.Compounds = append(d.Compounds, name)
		if c.Vehicle {
			d.Vehicles = append(d.Vehicles, name)
		}
	}
	for name := range params.CellLines {
		d.CellLines = append(d.CellLines, name)
	}
	sort.Strings(d.Compounds)
	sort.Strings(d.Vehicles)
	sort.Strings(d.CellLines)
	return toStruct(d)
}

// decodeRunRequest checks the cycle before decoding so a fractional cycle is
// reported as such rather than as a JSON type error.
func decodeRunRequest(in *structpb.Struct) (RunRequest, error) {
	var req RunRequest
	if v, ok := in.GetFields()["cycle"]; ok {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return req, fmt.Errorf("%w: cycle is not a number", cycle.ErrNonIntegerCycle)
		}
		if _, err := cycle.FromFloat(v.GetNumberValue()); err != nil {
			return req, err
		}
	}
	if err := fromStruct(in, &req); err != nil {
		return req, err
	}
	return req, nil
}

// #endregion server

// #region serve

// Serve runs a gRPC server for srv on lis until ctx is cancelled.
func Serve(ctx context.Context, lis net.Listener, srv *Server) error {
	gs := grpc.NewServer()
	RegisterLabServer(gs, srv)
	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	if err := gs.Serve(lis); err != nil {
		return fmt.Errorf("serve lab: %w", err)
	}
	return nil
}

// #endregion serve
