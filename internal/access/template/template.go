// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package template evaluates role predicates against live platform state.
//
// A template is a single "{{ expr }}" block whose expression is Lua. The
// Jinja spellings "!=", "True", "False", and "None" are accepted so that
// predicates written for the host platform read naturally:
//
//	{{ is_state('person.alice', 'home') and states('sun.sun') != 'below_horizon' }}
//	{{ person_home }}
//
// Evaluation runs in a fresh sandboxed Lua state with a wall-clock budget
// and read-only access to platform state.
package template

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultTimeout bounds a single template evaluation.
const DefaultTimeout = 250 * time.Millisecond

// Error codes returned by Compile and Evaluate.
const (
	CodeSyntax  = "TEMPLATE_SYNTAX"
	CodeEval    = "TEMPLATE_EVAL"
	CodeTimeout = "TEMPLATE_TIMEOUT"
)

// EntityState is the observable state of one platform entity.
type EntityState struct {
	State      string
	Attributes map[string]any
}

// StateProvider is the read-only platform-state surface templates query.
// Implementations must not block for long; evaluation is abandoned when its
// budget expires.
type StateProvider interface {
	// Entity returns the state of an entity and whether it exists.
	Entity(ctx context.Context, entityID string) (EntityState, bool)
	// Variable returns a named value for bare identifiers such as person_home.
	Variable(ctx context.Context, name string) (any, bool)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout sets the wall-clock budget for one evaluation.
// Non-positive values select DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Evaluator compiles and evaluates templates. It is safe for concurrent use;
// compiled chunks are cached by source text and shared across Lua states.
type Evaluator struct {
	sandbox *sandbox
	timeout time.Duration

	mu       sync.RWMutex
	compiled map[string]*lua.FunctionProto
}

// NewEvaluator creates an Evaluator with the given options.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		sandbox:  newSandbox(),
		timeout:  DefaultTimeout,
		compiled: make(map[string]*lua.FunctionProto),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the evaluation budget.
func (e *Evaluator) Timeout() time.Duration {
	return e.timeout
}

// Compile checks that src is a well-formed template. Compiled chunks are
// cached, so validating a document warms the cache for evaluation.
func (e *Evaluator) Compile(src string) error {
	_, err := e.proto(src)
	return err
}

// Evaluate renders src against states and reports its truthiness.
func (e *Evaluator) Evaluate(ctx context.Context, src string, states StateProvider) (bool, error) {
	proto, err := e.proto(src)
	if err != nil {
		return false, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	L, err := e.sandbox.newState(evalCtx)
	if err != nil {
		return false, oops.In("template").Code(CodeEval).Hint("failed to create state").Wrap(err)
	}
	defer L.Close()

	registerFunctions(L, states)

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		if ctxErr := evalCtx.Err(); ctxErr != nil {
			code := CodeTimeout
			if errors.Is(ctxErr, context.Canceled) && ctx.Err() != nil {
				code = CodeEval
			}
			return false, oops.In("template").Code(code).
				With("template", src).
				With("timeout", e.timeout.String()).
				Wrap(ctxErr)
		}
		return false, oops.In("template").Code(CodeEval).With("template", src).Wrap(err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return truthy(ret), nil
}

// proto returns the cached compiled chunk for src, compiling it on first use.
func (e *Evaluator) proto(src string) (*lua.FunctionProto, error) {
	e.mu.RLock()
	p, ok := e.compiled[src]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	chunk, err := toChunk(src)
	if err != nil {
		return nil, err
	}
	stmts, err := parse.Parse(strings.NewReader(chunk), "template")
	if err != nil {
		return nil, oops.In("template").Code(CodeSyntax).With("template", src).Wrap(err)
	}
	p, err = lua.Compile(stmts, "template")
	if err != nil {
		return nil, oops.In("template").Code(CodeSyntax).With("template", src).Wrap(err)
	}

	e.mu.Lock()
	e.compiled[src] = p
	e.mu.Unlock()
	return p, nil
}

// toChunk turns template source into a Lua chunk returning one value.
// Source without braces is a literal string.
func toChunk(src string) (string, error) {
	trimmed := strings.TrimSpace(src)
	if !strings.Contains(trimmed, "{{") && !strings.Contains(trimmed, "}}") {
		return "return " + quote(trimmed), nil
	}
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", oops.In("template").Code(CodeSyntax).With("template", src).
			Errorf("template must be a single {{ expression }} block")
	}
	expr := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
	if expr == "" || strings.Contains(expr, "{{") || strings.Contains(expr, "}}") {
		return "", oops.In("template").Code(CodeSyntax).With("template", src).
			Errorf("template must contain exactly one non-empty expression")
	}
	return "return (" + translate(expr) + ")", nil
}

// translate rewrites Jinja spellings to Lua outside string literals.
func translate(expr string) string {
	var b strings.Builder
	b.Grow(len(expr))

	var quoteCh byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if quoteCh != 0 {
			b.WriteByte(c)
			switch {
			case c == '\\' && i+1 < len(expr):
				i++
				b.WriteByte(expr[i])
			case c == quoteCh:
				quoteCh = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quoteCh = c
			b.WriteByte(c)
		case c == '!' && i+1 < len(expr) && expr[i+1] == '=':
			b.WriteString("~=")
			i++
		case isIdentStart(c):
			j := i
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			word := expr[i:j]
			switch word {
			case "True":
				word = "true"
			case "False":
				word = "false"
			case "None":
				word = "nil"
			}
			b.WriteString(word)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func quote(s string) string {
	return "\"" + strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n", "\r", "\\r").Replace(s) + "\""
}

// truthyStrings follows the host platform's template-condition rules.
var truthyStrings = map[string]bool{
	"true":   true,
	"on":     true,
	"yes":    true,
	"1":      true,
	"enable": true,
}

func truthy(v lua.LValue) bool {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return val != 0
	case lua.LString:
		return truthyStrings[strings.ToLower(strings.TrimSpace(string(val)))]
	default:
		return false
	}
}
