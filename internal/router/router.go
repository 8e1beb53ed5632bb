// Package router dispatches a request to the handler registered for its exact
// method and path. It is the terminal handler of the pipeline and the only
// place a failing handler is converted into a response.
package router

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/tjfontaine/lintgate/internal/apierror"
	"github.com/tjfontaine/lintgate/internal/pipeline"
)

// HandlerFunc handles one route. A returned *apierror.Error is rendered as
// is; any other error becomes a generic server error.
type HandlerFunc func(req *pipeline.Request) (*pipeline.Response, error)

// Route binds a method and path to a handler.
type Route struct {
	Method  string
	Path    string
	Handler HandlerFunc
}

// Router chooses a handler for a request by exact method and path.
type Router struct {
	routes []Route
	logger *slog.Logger
}

// New creates an empty router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Handle registers a route. The first registration for a method and path wins.
func (r *Router) Handle(method, path string, h HandlerFunc) {
	r.routes = append(r.routes, Route{Method: method, Path: path, Handler: h})
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Serve implements pipeline.Handler.
func (r *Router) Serve(req *pipeline.Request) *pipeline.Response {
	for _, route := range r.routes {
		if route.Method == req.Method && route.Path == req.Path {
			resp := r.dispatch(route, req)
			resp.Route = route.Path
			return resp
		}
	}
	return apierror.New(apierror.NotFound, "Route not found").Response()
}

func (r *Router) dispatch(route Route, req *pipeline.Request) (resp *pipeline.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(req.Context(), "handler panicked",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())),
			)
			resp = apierror.ServerError()
		}
	}()

	resp, err := route.Handler(req)
	if err != nil {
		if apiErr, ok := apierror.As(err); ok {
			if apiErr.Kind == apierror.UpstreamFailure {
				r.logFailure(req, err)
			}
			return apiErr.Response()
		}
		r.logFailure(req, err)
		return apierror.ServerError()
	}
	if resp == nil {
		r.logFailure(req, fmt.Errorf("handler returned no response"))
		return apierror.ServerError()
	}
	return resp
}

func (r *Router) logFailure(req *pipeline.Request, err error) {
	r.logger.ErrorContext(req.Context(), "handler failed",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.String("error", err.Error()),
	)
}
