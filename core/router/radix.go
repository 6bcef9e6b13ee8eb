// Package router maps request paths to endpoints.
//
// A Table is built once by a Builder and never changes afterwards, so it can be
// shared by every worker without locking.
package router

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/searchktools/blaze/core/http"
)

// Endpoint handles a parsed request. It writes a complete response to w and
// must not retain req or any slice obtained from it after returning.
type Endpoint func(req *http.Request, w http.ResponseWriter, ps Params) error

var (
	// ErrNoRoute is recorded when no endpoint matches the request path.
	ErrNoRoute = errors.New("no route")
	// ErrEndpointPanic wraps a panic raised by an endpoint.
	ErrEndpointPanic = errors.New("endpoint panicked")
)

// Param is a single captured path parameter
type Param struct {
	Key   string
	Value string
}

// Params holds the captured parameters in path order
type Params []Param

// Get returns the value of the named parameter
func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Key == name {
			return p.Value, true
		}
	}
	return "", false
}

type nodeType uint8

const (
	static   nodeType = iota // default
	param                    // :param
	catchAll                 // *param
)

type node struct {
	nType     nodeType
	paramName string // parameter name for :param or *param nodes
	static    map[string]*node
	param     *node
	catchAll  *node
	endpoint  Endpoint
	pattern   string
}

// Builder collects routes for a Table. It is not safe for concurrent use.
type Builder struct {
	root     *node
	patterns []string
	errs     []error
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{root: &node{}}
}

// Handle registers ep for pattern. Patterns start with '/' and may contain
// ":name" segments, which match any single non-empty segment, and a final
// "*name" segment, which matches the rest of the path. Static segments take
// priority over parameters, and parameters over catch-alls.
func (b *Builder) Handle(pattern string, ep Endpoint) *Builder {
	if err := b.add(pattern, ep); err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

func (b *Builder) add(pattern string, ep Endpoint) error {
	if ep == nil {
		return fmt.Errorf("route %q: nil endpoint", pattern)
	}
	if pattern == "" || pattern[0] != '/' {
		return fmt.Errorf("route %q: path must begin with '/'", pattern)
	}

	n := b.root
	if pattern != "/" {
		segs := strings.Split(pattern[1:], "/")
		for i, seg := range segs {
			child, err := n.child(seg, i == len(segs)-1)
			if err != nil {
				return fmt.Errorf("route %q: %w", pattern, err)
			}
			n = child
		}
	}

	if n.endpoint != nil {
		return fmt.Errorf("route %q: conflicts with %q", pattern, n.pattern)
	}
	n.endpoint = ep
	n.pattern = pattern
	b.patterns = append(b.patterns, pattern)
	return nil
}

// child returns the node for seg below n, creating it when missing
func (n *node) child(seg string, last bool) (*node, error) {
	if len(seg) > 0 && (seg[0] == ':' || seg[0] == '*') {
		name := seg[1:]
		if name == "" {
			return nil, errors.New("wildcards must be named")
		}
		if strings.ContainsAny(name, ":*") {
			return nil, errors.New("only one wildcard per path segment is allowed")
		}

		if seg[0] == '*' {
			if !last {
				return nil, errors.New("catch-all routes are only allowed at the end of the path")
			}
			if n.catchAll == nil {
				n.catchAll = &node{nType: catchAll, paramName: name}
			} else if n.catchAll.paramName != name {
				return nil, fmt.Errorf("catch-all %q conflicts with %q", name, n.catchAll.paramName)
			}
			return n.catchAll, nil
		}

		if n.param == nil {
			n.param = &node{nType: param, paramName: name}
		} else if n.param.paramName != name {
			return nil, fmt.Errorf("parameter %q conflicts with %q", name, n.param.paramName)
		}
		return n.param, nil
	}

	if n.static == nil {
		n.static = make(map[string]*node)
	}
	c, ok := n.static[seg]
	if !ok {
		c = &node{}
		n.static[seg] = c
	}
	return c, nil
}

// Build freezes the collected routes into a Table. It reports every
// registration error at once.
func (b *Builder) Build() (*Table, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	patterns := append([]string(nil), b.patterns...)
	sort.Strings(patterns)
	t := &Table{root: b.root, patterns: patterns}
	// the builder must not mutate a published table
	b.root = &node{}
	b.patterns = nil
	return t, nil
}

// Table is an immutable routing table
type Table struct {
	root     *node
	patterns []string
}

// Route finds the endpoint for path, which is the request target without its
// query. Captured parameters are copied out of path.
func (t *Table) Route(path []byte) (Endpoint, Params, bool) {
	if len(path) == 0 || path[0] != '/' {
		return nil, nil, false
	}
	if len(path) == 1 {
		if ep := t.root.endpoint; ep != nil {
			return ep, nil, true
		}
		// "/*all" also covers the root, with an empty capture
		if c := t.root.catchAll; c != nil && c.endpoint != nil {
			return c.endpoint, Params{{c.paramName, ""}}, true
		}
		return nil, nil, false
	}
	ep, ps := t.root.find(path[1:], nil)
	return ep, ps, ep != nil
}

// find matches rest, the path after the '/' that closes n's segment
func (n *node) find(rest []byte, ps Params) (Endpoint, Params) {
	seg, tail, last := rest, []byte(nil), true
	if i := bytes.IndexByte(rest, '/'); i >= 0 {
		seg, tail, last = rest[:i], rest[i+1:], false
	}

	if c, ok := n.static[string(seg)]; ok {
		if ep, out := c.descend(tail, last, ps); ep != nil {
			return ep, out
		}
	}

	if c := n.param; c != nil && len(seg) > 0 {
		if ep, out := c.descend(tail, last, append(ps, Param{c.paramName, string(seg)})); ep != nil {
			return ep, out
		}
	}

	if c := n.catchAll; c != nil && c.endpoint != nil {
		return c.endpoint, append(ps, Param{c.paramName, string(rest)})
	}
	return nil, ps
}

func (n *node) descend(tail []byte, last bool, ps Params) (Endpoint, Params) {
	if last {
		return n.endpoint, ps
	}
	return n.find(tail, ps)
}

// Patterns returns the registered patterns in sorted order
func (t *Table) Patterns() []string {
	return append([]string(nil), t.patterns...)
}
