// Package engine evaluates feature catalogs written in a small Lisp DSL.
// Each evaluation runs in a fresh zygomys sandbox and yields the parts it
// declared:
//
//	(part "shaft"
//	  (cylinder :id "journal" :axis (vec3 0 0 1) :center (vec3 0 0 0) :radius 10))
package engine

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/matelearn/pkg/feature"
)

// EvalError is a problem in the catalog source itself, such as a parse
// error or a builtin called with bad arguments.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Engine evaluates catalog source. Every call gets its own sandbox. Calls
// may overlap, but only the newest one returns its result; older calls get
// ErrSuperseded.
type Engine struct {
	mu         sync.Mutex
	generation uint64
}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate runs source and returns the declared parts.
//
// Return semantics:
//   - On success: parts + nil + nil
//   - On parse or evaluation failure: nil + eval errors + nil
//   - On a geometrically invalid catalog: nil + nil + *feature.InvalidFeatureError (wrapped)
//   - On timeout or panic: nil + nil + error
func (e *Engine) Evaluate(source string) ([]feature.Part, []EvalError, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	ch := make(chan evalResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("engine: panic during evaluation: %v", r)}
			}
		}()

		parts, evalErrs, err := e.evaluate(source)
		ch <- evalResult{parts: parts, errors: evalErrs, err: err}
	}()

	return waitWithTimeout(ch, gen, &e.mu, &e.generation)
}

// EvaluateFile reads and evaluates a catalog file. Evaluation errors are
// joined into the returned error.
func (e *Engine) EvaluateFile(path string) ([]feature.Part, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	parts, evalErrs, err := e.Evaluate(string(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(evalErrs) > 0 {
		msgs := make([]string, len(evalErrs))
		for i, ee := range evalErrs {
			msgs[i] = ee.Error()
		}
		return nil, fmt.Errorf("engine: %s: %s", path, strings.Join(msgs, "; "))
	}
	return parts, nil
}

func (e *Engine) evaluate(source string) ([]feature.Part, []EvalError, error) {
	if strings.TrimSpace(source) == "" {
		return []feature.Part{}, nil, nil
	}

	// Sandbox mode keeps catalog code away from the filesystem and syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()

	cat := &catalog{}
	registerBuiltins(env, cat)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return nil, parseZygomysError(err), nil
	}
	if _, err := env.Run(); err != nil {
		return nil, parseZygomysError(err), nil
	}

	if err := feature.ValidateParts(cat.parts); err != nil {
		return nil, nil, fmt.Errorf("engine: %w", err)
	}
	return cat.parts, nil, nil
}

// linePattern matches zygomys messages of the form "Error on line N: ...".
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into EvalErrors, keeping the
// line number when the message carries one.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()

	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
