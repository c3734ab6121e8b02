package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"mvdan.cc/sh/v3/syntax"
)

// Expander supplies values for $NAME references.
type Expander interface {
	Lookup(name string) string
}

// ExpanderFunc adapts a function to Expander.
type ExpanderFunc func(name string) string

func (f ExpanderFunc) Lookup(name string) string { return f(name) }

// Script is a parsed command line or file: zero or more pipelines separated
// by ';' or newlines. Words are expanded when a pipeline is filled, so a
// later pipeline sees variables set by an earlier one.
type Script struct {
	name  string
	stmts []*syntax.Stmt
}

// ParseLine parses one line of input.
func ParseLine(line string) (*Script, error) {
	return Parse(strings.NewReader(line), "")
}

// ParseFile parses the file at path. A missing file yields an error that
// matches os.ErrNotExist.
func ParseFile(fs afero.Fs, path string) (*Script, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(data), path)
}

// Parse reads a script from r. name is used in error messages.
func Parse(r io.Reader, name string) (*Script, error) {
	f, err := syntax.NewParser().Parse(r, name)
	if err != nil {
		return nil, err
	}
	for _, stmt := range f.Stmts {
		if err := checkStmt(stmt, true); err != nil {
			return nil, err
		}
	}
	return &Script{name: name, stmts: f.Stmts}, nil
}

// Len returns the number of pipelines in the script.
func (s *Script) Len() int {
	return len(s.stmts)
}

// Fill clears p and populates it with the i'th pipeline, expanding words
// through exp. A nil exp reads the process environment.
func (s *Script) Fill(i int, p *Pipeline, exp Expander) error {
	if exp == nil {
		exp = ExpanderFunc(os.Getenv)
	}
	p.Clear()

	stmt := s.stmts[i]
	var r Redirects
	var stages []*syntax.Stmt
	flatten(stmt, &stages)
	for _, st := range stages {
		call := st.Cmd.(*syntax.CallExpr)
		var args []string
		for _, w := range call.Args {
			v, keep, err := expandWord(w, exp)
			if err != nil {
				return err
			}
			if keep {
				args = append(args, v)
			}
		}
		if len(args) == 0 {
			return syntaxError(st, "empty command")
		}
		c, err := NewSimpleCommand(args...)
		if err != nil {
			return err
		}
		p.AddStage(c)

		for _, rd := range st.Redirs {
			if err := addRedirect(&r, rd, exp); err != nil {
				p.Clear()
				return err
			}
		}
	}
	p.SetRedirects(r)
	p.SetBackground(stmt.Background)
	return nil
}

// Pipelines expands every pipeline of the script up front.
func (s *Script) Pipelines(exp Expander) ([]*Pipeline, error) {
	out := make([]*Pipeline, 0, len(s.stmts))
	for i := range s.stmts {
		p := New()
		if err := s.Fill(i, p, exp); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func syntaxError(node syntax.Node, msg string) error {
	pos := node.Pos()
	return fmt.Errorf("%d:%d: %s", pos.Line(), pos.Col(), msg)
}

// checkStmt rejects every construct other than simple commands joined by
// '|'. Only the outermost statement may run in the background.
func checkStmt(stmt *syntax.Stmt, top bool) error {
	switch {
	case stmt.Negated:
		return syntaxError(stmt, "'!' is not supported")
	case stmt.Coprocess:
		return syntaxError(stmt, "coprocesses are not supported")
	case stmt.Background && !top:
		return syntaxError(stmt, "'&' inside a pipeline")
	}

	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if len(cmd.Assigns) > 0 {
			return syntaxError(stmt, "variable assignment is not supported; use setenv")
		}
		if len(cmd.Args) == 0 {
			return syntaxError(stmt, "empty command")
		}
		for _, w := range cmd.Args {
			if err := checkWord(w); err != nil {
				return err
			}
		}
		for _, rd := range stmt.Redirs {
			if err := checkRedirect(rd); err != nil {
				return err
			}
		}
	case *syntax.BinaryCmd:
		if cmd.Op != syntax.Pipe {
			return syntaxError(cmd, fmt.Sprintf("'%s' is not supported", cmd.Op))
		}
		if len(stmt.Redirs) > 0 {
			return syntaxError(stmt, "redirection of a whole pipeline")
		}
		if err := checkStmt(cmd.X, false); err != nil {
			return err
		}
		if err := checkStmt(cmd.Y, false); err != nil {
			return err
		}
	case nil:
		return syntaxError(stmt, "empty command")
	default:
		return syntaxError(stmt, "unsupported command")
	}
	return nil
}

func checkRedirect(rd *syntax.Redirect) error {
	switch rd.Op {
	case syntax.RdrIn, syntax.RdrOut, syntax.ClbOut, syntax.AppOut,
		syntax.RdrAll, syntax.AppAll, syntax.DplOut:
	default:
		return syntaxError(rd, fmt.Sprintf("unsupported redirection %s", rd.Op))
	}
	if rd.Word == nil {
		return syntaxError(rd, "missing redirection target")
	}
	return checkWord(rd.Word)
}

func checkWord(w *syntax.Word) error {
	for _, part := range w.Parts {
		if err := checkWordPart(part); err != nil {
			return err
		}
	}
	return nil
}

func checkWordPart(part syntax.WordPart) error {
	switch part := part.(type) {
	case *syntax.Lit, *syntax.SglQuoted:
		return nil
	case *syntax.DblQuoted:
		for _, sub := range part.Parts {
			if err := checkWordPart(sub); err != nil {
				return err
			}
		}
		return nil
	case *syntax.ParamExp:
		if part.Param == nil || part.Excl || part.Length || part.Index != nil ||
			part.Slice != nil || part.Repl != nil || part.Names != 0 || part.Exp != nil {
			return syntaxError(part, "unsupported parameter expansion")
		}
		return nil
	default:
		return syntaxError(part, "unsupported expansion")
	}
}

// flatten lists the stages of a pipeline left to right.
func flatten(stmt *syntax.Stmt, out *[]*syntax.Stmt) {
	if bin, ok := stmt.Cmd.(*syntax.BinaryCmd); ok {
		flatten(bin.X, out)
		flatten(bin.Y, out)
		return
	}
	*out = append(*out, stmt)
}

// expandWord evaluates w. keep is false for an unquoted word that expanded
// to nothing, which does not produce an argument.
func expandWord(w *syntax.Word, exp Expander) (string, bool, error) {
	var b strings.Builder
	quoted := false
	for _, part := range w.Parts {
		switch part.(type) {
		case *syntax.SglQuoted, *syntax.DblQuoted:
			quoted = true
		}
		if err := expandPart(&b, part, exp, false); err != nil {
			return "", false, err
		}
	}
	return b.String(), quoted || b.Len() > 0, nil
}

func expandPart(b *strings.Builder, part syntax.WordPart, exp Expander, inDouble bool) error {
	switch part := part.(type) {
	case *syntax.Lit:
		b.WriteString(unescape(part.Value, inDouble))
	case *syntax.SglQuoted:
		b.WriteString(part.Value)
	case *syntax.DblQuoted:
		for _, sub := range part.Parts {
			if err := expandPart(b, sub, exp, true); err != nil {
				return err
			}
		}
	case *syntax.ParamExp:
		if err := checkWordPart(part); err != nil {
			return err
		}
		b.WriteString(exp.Lookup(part.Param.Value))
	default:
		return syntaxError(part, "unsupported expansion")
	}
	return nil
}

// unescape removes backslash quoting from a literal. Inside double quotes
// only \$, \`, \", \\ and an escaped newline are special.
func unescape(s string, inDouble bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		switch {
		case next == '\n':
			i++
		case !inDouble || strings.IndexByte("$`\"\\", next) >= 0:
			b.WriteByte(next)
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var (
	errAmbiguousOut = errors.New("ambiguous output redirect")
	errAmbiguousIn  = errors.New("ambiguous input redirect")
	errAmbiguousErr = errors.New("ambiguous error redirect")
)

func addRedirect(r *Redirects, rd *syntax.Redirect, exp Expander) error {
	fd := ""
	if rd.N != nil {
		fd = rd.N.Value
	}
	if rd.Word == nil {
		return syntaxError(rd, "missing redirection target")
	}
	target, _, err := expandWord(rd.Word, exp)
	if err != nil {
		return err
	}
	if target == "" {
		return syntaxError(rd, "empty redirection target")
	}

	setOut := func(appendMode bool) error {
		if r.Out != "" {
			return errAmbiguousOut
		}
		r.Out = target
		r.Append = r.Append || appendMode
		return nil
	}
	setErr := func(appendMode bool) error {
		if r.Err != "" || r.ErrToOut {
			return errAmbiguousErr
		}
		r.Err = target
		r.Append = r.Append || appendMode
		return nil
	}
	setBoth := func(appendMode bool) error {
		if r.Err != "" || r.ErrToOut {
			return errAmbiguousErr
		}
		if err := setOut(appendMode); err != nil {
			return err
		}
		r.ErrToOut = true
		return nil
	}

	switch rd.Op {
	case syntax.RdrIn:
		if fd != "" && fd != "0" {
			return syntaxError(rd, "unsupported redirection")
		}
		if r.In != "" {
			return errAmbiguousIn
		}
		r.In = target
		return nil

	case syntax.RdrOut, syntax.ClbOut, syntax.AppOut:
		appendMode := rd.Op == syntax.AppOut
		switch fd {
		case "", "1":
			return setOut(appendMode)
		case "2":
			return setErr(appendMode)
		}

	case syntax.RdrAll:
		if fd == "" {
			return setBoth(false)
		}

	case syntax.AppAll:
		if fd == "" {
			return setBoth(true)
		}

	case syntax.DplOut:
		switch {
		case fd == "2" && target == "1":
			if r.Err != "" || r.ErrToOut {
				return errAmbiguousErr
			}
			r.ErrToOut = true
			return nil
		case fd == "" && !isDigits(target):
			// csh-style ">& file"
			return setBoth(false)
		case (fd == "" || fd == "1") && target == "1", fd == "2" && target == "2":
			return nil
		}
	}
	return syntaxError(rd, fmt.Sprintf("unsupported redirection %s%s", fd, rd.Op))
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
