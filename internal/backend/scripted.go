package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robalobadob/tictactoe/internal/agent"
)

// Response configures one scripted backend call. Raw, when set, is decoded
// with the same validation a real backend's output goes through.
type Response struct {
	Analysis *agent.BoardAnalysis
	Strategy *agent.Strategy
	Raw      string
	Err      error
	// Delay simulates latency; the call returns ctx.Err() if ctx ends first.
	Delay time.Duration
	// Hang blocks until ctx is done.
	Hang bool
}

// Scripted is a deterministic Backend for tests and demos. Analyze and Plan
// consume their own response queues.
type Scripted struct {
	mu       sync.Mutex
	name     string
	analyses []Response
	plans    []Response
	calls    int
}

var _ Backend = (*Scripted)(nil)

func NewScripted(name string) *Scripted {
	return &Scripted{name: name}
}

// OnAnalyze queues responses for Analyze calls.
func (s *Scripted) OnAnalyze(rs ...Response) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, rs...)
	return s
}

// OnPlan queues responses for Plan calls.
func (s *Scripted) OnPlan(rs ...Response) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans = append(s.plans, rs...)
	return s
}

// Calls returns the number of Analyze+Plan calls served.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Name() string { return "scripted:" + s.name }

func (s *Scripted) next(queue *[]Response) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(*queue) == 0 {
		return Response{}, fmt.Errorf("script exhausted at call %d", s.calls)
	}
	r := (*queue)[0]
	*queue = (*queue)[1:]
	return r, nil
}

func wait(ctx context.Context, r Response) error {
	if r.Hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(r.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Scripted) Analyze(ctx context.Context, req AnalyzeRequest) (agent.BoardAnalysis, error) {
	r, err := s.next(&s.analyses)
	if err != nil {
		return agent.BoardAnalysis{}, err
	}
	if err := wait(ctx, r); err != nil {
		return agent.BoardAnalysis{}, err
	}
	switch {
	case r.Err != nil:
		return agent.BoardAnalysis{}, r.Err
	case r.Raw != "":
		return DecodeAnalysis(r.Raw, req.State)
	case r.Analysis != nil:
		return *r.Analysis, nil
	}
	return agent.BoardAnalysis{}, malformed("scripted response has no analysis")
}

func (s *Scripted) Plan(ctx context.Context, _ PlanRequest) (agent.Strategy, error) {
	r, err := s.next(&s.plans)
	if err != nil {
		return agent.Strategy{}, err
	}
	if err := wait(ctx, r); err != nil {
		return agent.Strategy{}, err
	}
	switch {
	case r.Err != nil:
		return agent.Strategy{}, r.Err
	case r.Raw != "":
		return DecodeStrategy(r.Raw)
	case r.Strategy != nil:
		return *r.Strategy, nil
	}
	return agent.Strategy{}, malformed("scripted response has no strategy")
}
