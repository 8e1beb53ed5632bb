package pipeline

import (
	"net/http"
	"sort"
)

// Next continues processing with the remaining stages.
type Next func(req *Request) *Response

// Stage processes a request on its way to the terminal handler.
type Stage interface {
	// Name returns the unique identifier for this stage.
	Name() string
	// Handle either answers req directly or calls next and returns (possibly
	// decorating) its response.
	Handle(req *Request, next Next) *Response
}

// Handler terminates a pipeline.
type Handler interface {
	Serve(req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) *Response

// Serve calls f(req).
func (f HandlerFunc) Serve(req *Request) *Response { return f(req) }

// Executor drives a request through an ordered list of stages.
type Executor struct {
	stages   []Stage
	terminal Handler
}

// ExecutorConfig configures an executor.
type ExecutorConfig struct {
	Stages   []StageConfig
	Terminal Handler
}

// StageConfig is the configuration for a single stage.
type StageConfig struct {
	Name  string
	Order int
	Stage Stage
}

// NewExecutor creates an executor from configuration. Stages run in ascending
// Order; ties keep their configured position.
func NewExecutor(cfg ExecutorConfig) *Executor {
	configs := make([]StageConfig, 0, len(cfg.Stages))
	for _, s := range cfg.Stages {
		if s.Stage != nil {
			configs = append(configs, s)
		}
	}

	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Order < configs[j].Order
	})

	e := &Executor{
		stages:   make([]Stage, len(configs)),
		terminal: cfg.Terminal,
	}
	for i, s := range configs {
		e.stages[i] = s.Stage
	}
	return e
}

// Stages returns the stage names in execution order.
func (e *Executor) Stages() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name()
	}
	return names
}

// Serve runs req through every stage and the terminal handler. It always
// returns a non-nil response.
func (e *Executor) Serve(req *Request) *Response {
	return e.serveFrom(0, req)
}

func (e *Executor) serveFrom(pos int, req *Request) *Response {
	if pos >= len(e.stages) {
		if e.terminal == nil {
			return JSON(http.StatusNotFound, ErrorBody{Error: "Not found", Message: "Route not found"})
		}
		if resp := e.terminal.Serve(req); resp != nil {
			return resp
		}
		return ServerError()
	}

	c := cursor{executor: e, pos: pos + 1}
	if resp := e.stages[pos].Handle(req, c.next); resp != nil {
		return resp
	}
	return ServerError()
}

// cursor remembers where in the stage list a continuation resumes.
type cursor struct {
	executor *Executor
	pos      int
}

func (c cursor) next(req *Request) *Response {
	return c.executor.serveFrom(c.pos, req)
}

