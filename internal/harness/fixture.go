package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Scope declares how long a constructed fixture value lives.
type Scope int

const (
	// ScopeTest values are constructed fresh for every resolution and torn
	// down when the resolution's Context closes.
	ScopeTest Scope = iota

	// ScopeRun values are constructed once per registry and cached for the
	// remainder of the test session; their teardown is skipped.
	ScopeRun
)

// Teardown releases whatever its fixture constructed.
type Teardown func() error

// Node is a named unit of setup/teardown logic with declared dependencies.
// Build receives the resolution Context with all dependencies already
// constructed, and returns the fixture value plus an optional teardown.
type Node struct {
	Name  string
	Deps  []string
	Scope Scope
	Build func(c *Context) (any, Teardown, error)
}

// Registry holds the fixture graph: nodes and their dependency edges.
type Registry struct {
	nodes map[string]Node

	mu       sync.Mutex
	runCache map[string]any
}

// NewRegistry returns an empty fixture registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes:    make(map[string]Node),
		runCache: make(map[string]any),
	}
}

// Register adds a node to the graph. Registering the same name twice or a
// node without a Build function is an error.
func (r *Registry) Register(n Node) error {
	if n.Name == "" {
		return fmt.Errorf("%w: node with empty name", ErrFixtureGraph)
	}
	if n.Build == nil {
		return fmt.Errorf("%w: node %q has no constructor", ErrFixtureGraph, n.Name)
	}
	if _, exists := r.nodes[n.Name]; exists {
		return fmt.Errorf("%w: node %q registered twice", ErrFixtureGraph, n.Name)
	}
	r.nodes[n.Name] = n
	return nil
}

// MustRegister is Register for static graph construction, where a bad node
// is a programming error.
func (r *Registry) MustRegister(n Node) {
	if err := r.Register(n); err != nil {
		panic(err)
	}
}

// Replace swaps an already-registered node for another with the same name,
// keeping the graph otherwise intact. Used by tests and options to override
// a single fixture.
func (r *Registry) Replace(n Node) error {
	if _, exists := r.nodes[n.Name]; !exists {
		return fmt.Errorf("%w: cannot replace unknown node %q", ErrFixtureGraph, n.Name)
	}
	delete(r.nodes, n.Name)
	return r.Register(n)
}

// order computes the construction order for leaf and all its ancestors:
// dependencies always precede their dependents. Missing nodes and cycles are
// reported as ErrFixtureGraph before anything is constructed.
func (r *Registry) order(leaf string) ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var sorted []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		node, ok := r.nodes[name]
		if !ok {
			return fmt.Errorf("%w: missing dependency %q (required via %s)",
				ErrFixtureGraph, name, strings.Join(append(path, name), " -> "))
		}
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: dependency cycle: %s",
				ErrFixtureGraph, strings.Join(append(path, name), " -> "))
		}
		state[name] = visiting
		path = append(path, name)
		for _, dep := range node.Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		sorted = append(sorted, name)
		return nil
	}

	if err := visit(leaf); err != nil {
		return nil, err
	}
	return sorted, nil
}

// Validate checks the reachable graph from leaf without constructing
// anything.
func (r *Registry) Validate(leaf string) error {
	_, err := r.order(leaf)
	return err
}

// Resolve constructs leaf and every ancestor it requires, each exactly once
// per its scope, and returns a Context holding the values and the pending
// teardowns. On a constructor error, fixtures already built are torn down in
// reverse order before the error is returned.
func (r *Registry) Resolve(ctx context.Context, leaf string, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	order, err := r.order(leaf)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Ctx:    ctx,
		Logger: logger,
		values: make(map[string]any, len(order)),
	}

	for _, name := range order {
		node := r.nodes[name]

		if node.Scope == ScopeRun {
			r.mu.Lock()
			cached, ok := r.runCache[name]
			r.mu.Unlock()
			if ok {
				c.values[name] = cached
				continue
			}
		}

		value, teardown, err := node.Build(c)
		if err != nil {
			closeErr := c.Close()
			if closeErr != nil {
				logger.Error("teardown after failed fixture", "fixture", name, "error", closeErr)
			}
			return nil, fmt.Errorf("fixture %q: %w", name, err)
		}
		c.values[name] = value

		if node.Scope == ScopeRun {
			// Run-scoped fixtures live for the whole session; their teardown
			// is intentionally never run by a per-test Context.
			r.mu.Lock()
			r.runCache[name] = value
			r.mu.Unlock()
			continue
		}
		if teardown != nil {
			c.teardowns = append(c.teardowns, namedTeardown{name: name, fn: teardown})
		}
	}
	return c, nil
}

type namedTeardown struct {
	name string
	fn   Teardown
}

// Context is the result of one graph resolution: constructed fixture values
// and the teardown stack, unwound strictly in reverse construction order.
type Context struct {
	Ctx    context.Context
	Logger *slog.Logger

	values    map[string]any
	teardowns []namedTeardown
	closed    bool
}

// Value returns a constructed fixture value by name, or nil when absent.
func (c *Context) Value(name string) any {
	return c.values[name]
}

// Get resolves a constructed fixture value with type safety. It panics on a
// missing name or type mismatch, both programming errors in graph wiring.
func Get[T any](c *Context, name string) T {
	v, ok := c.values[name]
	if !ok {
		panic(fmt.Sprintf("fixture %q was not constructed", name))
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		panic(fmt.Sprintf("fixture %q is %T, expected %T", name, v, zero))
	}
	return typed
}

// Close runs every pending teardown in reverse construction order. Every
// teardown runs even when an earlier one fails; failures are joined into the
// returned error. Close is idempotent.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for i := len(c.teardowns) - 1; i >= 0; i-- {
		td := c.teardowns[i]
		if err := td.fn(); err != nil {
			c.Logger.Error("fixture teardown failed", "fixture", td.name, "error", err)
			errs = append(errs, fmt.Errorf("teardown %q: %w", td.name, err))
		}
	}
	c.teardowns = nil
	return errors.Join(errs...)
}
