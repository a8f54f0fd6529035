package lower

import (
	"os"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/roach88/cqnlower/internal/cqn"
	"github.com/roach88/cqnlower/internal/csn"
)

const debugLowerKey = "DEBUG_CQN_LOWER"

// Option configures a Lowerer.
type Option func(*Lowerer)

// WithLogger sets the logger used for debug traces.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Lowerer) {
		l.log = log
	}
}

// WithDebug enables debug traces of alias, join and subquery decisions.
func WithDebug(debug bool) Option {
	return func(l *Lowerer) {
		l.Debug = debug
	}
}

// WithIDGenerator sets the generator for the id attached to debug traces
// of each Lower call.
func WithIDGenerator(ids IDGenerator) Option {
	return func(l *Lowerer) {
		l.ids = ids
	}
}

// Lowerer lowers queries against one model. It holds no per-query state
// and may be shared between goroutines.
type Lowerer struct {
	// Whether to log lowering decisions
	Debug bool

	model *csn.Model
	log   logrus.FieldLogger
	ids   IDGenerator
}

// New creates a Lowerer for a linked model. Debug traces are enabled by
// WithDebug or by setting DEBUG_CQN_LOWER in the environment.
func New(m *csn.Model, opts ...Option) *Lowerer {
	_, debug := os.LookupEnv(debugLowerKey)
	l := &Lowerer{
		Debug: debug,
		model: m,
		log:   logrus.StandardLogger(),
		ids:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lower lowers q against m. See Lowerer.Lower.
func Lower(q *cqn.Select, m *csn.Model, opts ...Option) (*cqn.Select, error) {
	return New(m, opts...).Lower(q)
}

// maxPasses bounds re-lowering. Each extra pass disables at least one
// shortcut, so queries rarely need more than two.
const maxPasses = 8

// Lower rewrites q into a query over flat columns, explicit left joins and
// correlated subqueries. The input is not modified.
//
// A foreign-key shortcut is only taken when no other reference of the same
// scope joins the same association. Such conflicts are found after a pass,
// and the query is lowered again without the conflicting shortcuts.
func (l *Lowerer) Lower(q *cqn.Select) (*cqn.Select, error) {
	var log logrus.FieldLogger
	if l.Debug {
		log = l.log.WithField("compilation", l.ids.Generate())
	}
	joinOnly := make(map[string]bool)
	for pass := 1; ; pass++ {
		c := &compilation{
			model:     l.model,
			debug:     l.Debug,
			log:       log,
			joinOnly:  joinOnly,
			shortcuts: make(map[string]bool),
			joined:    make(map[string]bool),
		}
		if pass == 1 {
			c.Log("lowering query")
		}

		out, err := c.lowerSelect(newScope(c, nil), q, "")
		shadowed := c.shadowedShortcuts()
		if len(shadowed) == 0 || pass == maxPasses {
			if err != nil {
				c.Log("failed: %v", err)
				return nil, err
			}
			return out, nil
		}
		for _, key := range shadowed {
			joinOnly[key] = true
		}
		c.Log("lowering again: %d foreign-key shortcut(s) shadowed by joins", len(shadowed))
	}
}

// compilation is the state of one lowering pass.
type compilation struct {
	model *csn.Model

	// scopes counts the scopes created, giving each its id.
	scopes int
	// joinOnly holds join keys whose shortcuts are disabled.
	joinOnly  map[string]bool
	shortcuts map[string]bool
	joined    map[string]bool

	debug    bool
	log      logrus.FieldLogger
	debugCtx []string
}

// shadowedShortcuts returns the keys of shortcuts taken in this pass whose
// association was also joined.
func (c *compilation) shadowedShortcuts() []string {
	var keys []string
	for key := range c.shortcuts {
		if c.joined[key] && !c.joinOnly[key] {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Log prints a debug message if the compilation is in debug mode.
func (c *compilation) Log(msg string, args ...interface{}) {
	if c == nil || !c.debug {
		return
	}
	if len(c.debugCtx) > 0 {
		ctx := strings.Join(c.debugCtx, "/")
		c.log.Debugf("%s: "+msg, append([]interface{}{ctx}, args...)...)
	} else {
		c.log.Debugf(msg, args...)
	}
}

// PushDebugContext pushes the given context string onto the context stack,
// to use when logging debug messages.
func (c *compilation) PushDebugContext(msg string) {
	if c.debug {
		c.debugCtx = append(c.debugCtx, msg)
	}
}

// PopDebugContext pops a context message off the context stack.
func (c *compilation) PopDebugContext() {
	if c.debug && len(c.debugCtx) > 0 {
		c.debugCtx = c.debugCtx[:len(c.debugCtx)-1]
	}
}
