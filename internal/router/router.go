package router

import (
	"net/http"
	"slices"
	"sort"
	"sync"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// table is shared by a router and every group derived from it.
type table struct {
	mux *http.ServeMux

	mu       sync.Mutex
	patterns []string
}

func (t *table) add(pattern string, h http.Handler) {
	t.mux.Handle(pattern, h)

	t.mu.Lock()
	t.patterns = append(t.patterns, pattern)
	t.mu.Unlock()
}

// Router registers method-qualified ServeMux patterns behind a middleware
// stack. Groups share the parent's routes and extend its stack.
type Router struct {
	routes *table
	stack  []Middleware
}

// New returns a router whose routes all run through middleware, outermost
// first.
func New(middleware ...Middleware) *Router {
	return &Router{
		routes: &table{mux: http.NewServeMux()},
		stack:  middleware,
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.routes.mux.ServeHTTP(w, req)
}

// Group returns a router that adds middleware after r's own.
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		routes: r.routes,
		stack:  append(slices.Clone(r.stack), middleware...),
	}
}

func (r *Router) Get(pattern string, h http.HandlerFunc, mw ...Middleware) {
	r.Handle(http.MethodGet, pattern, h, mw...)
}

func (r *Router) Post(pattern string, h http.HandlerFunc, mw ...Middleware) {
	r.Handle(http.MethodPost, pattern, h, mw...)
}

func (r *Router) Put(pattern string, h http.HandlerFunc, mw ...Middleware) {
	r.Handle(http.MethodPut, pattern, h, mw...)
}

func (r *Router) Patch(pattern string, h http.HandlerFunc, mw ...Middleware) {
	r.Handle(http.MethodPatch, pattern, h, mw...)
}

func (r *Router) Delete(pattern string, h http.HandlerFunc, mw ...Middleware) {
	r.Handle(http.MethodDelete, pattern, h, mw...)
}

// Handle registers h for method and pattern. Patterns use ServeMux syntax;
// a trailing {$} pins the trailing slash.
func (r *Router) Handle(method, pattern string, h http.Handler, mw ...Middleware) {
	r.routes.add(method+" "+pattern, r.build(h, mw))
}

// NotFound serves requests that match no pattern. The router's middleware
// still runs.
func (r *Router) NotFound(h http.HandlerFunc) {
	r.routes.add("/", r.build(h, nil))
}

// Routes lists the registered patterns in sorted order.
func (r *Router) Routes() []string {
	r.routes.mu.Lock()
	defer r.routes.mu.Unlock()

	out := slices.Clone(r.routes.patterns)
	sort.Strings(out)
	return out
}

// build wraps h so the stack runs first-to-last, then the route's own
// middleware.
func (r *Router) build(h http.Handler, mw []Middleware) http.Handler {
	all := append(slices.Clone(r.stack), mw...)
	for i := len(all) - 1; i >= 0; i-- {
		h = all[i](h)
	}
	return h
}
