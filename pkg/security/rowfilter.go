package security

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// RowFilter is a compiled per-table boolean predicate evaluated against
// each result row. The condition language supports comparisons
// (= != <> < <= > >=), AND/OR/NOT, parentheses, IS [NOT] NULL, LIKE with
// % and _ wildcards, and IN lists. Caller-supplied conditions are parsed
// into an expression tree; no code is ever compiled or executed.
type RowFilter struct {
	condition string
	expr      filterExpr
}

// CompileRowFilter parses condition into a predicate.
func CompileRowFilter(condition string) (*RowFilter, error) {
	toks, err := tokenizeFilter(condition)
	if err != nil {
		return nil, err
	}
	p := &filterParser{toks: toks, src: condition}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, p.errf("unexpected token %q", p.peek().text)
	}
	return &RowFilter{condition: condition, expr: expr}, nil
}

// Condition returns the source condition text.
func (f *RowFilter) Condition() string { return f.condition }

// Match evaluates the predicate against a row. Unknown columns evaluate
// as NULL, so comparisons against them fail and the row is dropped unless
// the condition checks for NULL explicitly.
func (f *RowFilter) Match(row map[string]any) bool {
	return f.expr.eval(row)
}

func filterErr(condition, format string, args ...any) error {
	return gwerrors.Newf(gwerrors.KindProtocol, "invalid row filter: "+format, args...).
		WithContext("condition", condition)
}

// --- tokenizer ---

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type filterToken struct {
	kind tokenKind
	text string
}

func tokenizeFilter(s string) ([]filterToken, error) {
	var toks []filterToken
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, filterToken{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, filterToken{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, filterToken{tokComma, ","})
			i++
		case c == '\'':
			end := i + 1
			for end < len(s) && s[end] != '\'' {
				end++
			}
			if end >= len(s) {
				return nil, filterErr(s, "unterminated string literal")
			}
			toks = append(toks, filterToken{tokString, s[i+1 : end]})
			i = end + 1
		case strings.ContainsRune("=<>!", rune(c)):
			end := i + 1
			for end < len(s) && strings.ContainsRune("=<>", rune(s[end])) {
				end++
			}
			op := s[i:end]
			switch op {
			case "=", "!=", "<>", "<", "<=", ">", ">=":
				toks = append(toks, filterToken{tokOp, op})
			default:
				return nil, filterErr(s, "unknown operator %q", op)
			}
			i = end
		case c >= '0' && c <= '9' || c == '-' || c == '.':
			end := i + 1
			for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
				end++
			}
			toks = append(toks, filterToken{tokNumber, s[i:end]})
			i = end
		case isIdentChar(c):
			end := i + 1
			for end < len(s) && isIdentChar(s[end]) {
				end++
			}
			toks = append(toks, filterToken{tokIdent, s[i:end]})
			i = end
		default:
			return nil, filterErr(s, "unexpected character %q", string(c))
		}
	}
	return toks, nil
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '$'
}

// --- parser ---

type filterParser struct {
	toks []filterToken
	src  string
	pos  int
}

// errf builds a parse error carrying the source condition.
func (p *filterParser) errf(format string, args ...any) error {
	return filterErr(p.src, format, args...)
}

func (p *filterParser) eof() bool { return p.pos >= len(p.toks) }

func (p *filterParser) peek() filterToken {
	if p.eof() {
		return filterToken{}
	}
	return p.toks[p.pos]
}

func (p *filterParser) next() filterToken {
	t := p.peek()
	p.pos++
	return t
}

func (p *filterParser) matchKeyword(kw string) bool {
	if !p.eof() && p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *filterParser) parseOr() (filterExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "OR", left: left, right: right}
	}
	return left, nil
}

func (p *filterParser) parseAnd() (filterExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "AND", left: left, right: right}
	}
	return left, nil
}

func (p *filterParser) parseUnary() (filterExpr, error) {
	if p.matchKeyword("NOT") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *filterParser) parsePrimary() (filterExpr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, p.errf("expected closing parenthesis")
		}
		return expr, nil
	}
	return p.parseComparison()
}

func (p *filterParser) parseComparison() (filterExpr, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return nil, p.errf("expected column name, got %q", tok.text)
	}
	column := tok.text

	if p.matchKeyword("IS") {
		negate := p.matchKeyword("NOT")
		if !p.matchKeyword("NULL") {
			return nil, p.errf("expected NULL after IS")
		}
		return &nullExpr{column: column, negate: negate}, nil
	}
	if p.matchKeyword("LIKE") {
		lit := p.next()
		if lit.kind != tokString {
			return nil, p.errf("LIKE requires a string literal")
		}
		re, err := likeToRegexp(lit.text)
		if err != nil {
			return nil, err
		}
		return &likeExpr{column: column, re: re}, nil
	}
	if p.matchKeyword("IN") {
		return p.parseInList(column)
	}

	op := p.next()
	if op.kind != tokOp {
		return nil, p.errf("expected comparison operator, got %q", op.text)
	}
	value, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &compareExpr{column: column, op: op.text, value: value}, nil
}

func (p *filterParser) parseInList(column string) (filterExpr, error) {
	if p.next().kind != tokLParen {
		return nil, p.errf("IN requires a parenthesized list")
	}
	var values []any
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		tok := p.next()
		if tok.kind == tokRParen {
			break
		}
		if tok.kind != tokComma {
			return nil, p.errf("expected comma in IN list")
		}
	}
	return &inExpr{column: column, values: values}, nil
}

func (p *filterParser) parseLiteral() (any, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokNumber:
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, p.errf("invalid number %q", tok.text)
		}
		return n, nil
	case tokIdent:
		switch strings.ToUpper(tok.text) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		case "NULL":
			return nil, nil
		}
	}
	return nil, p.errf("expected literal, got %q", tok.text)
}

// --- evaluation ---

type filterExpr interface {
	eval(row map[string]any) bool
}

type binaryExpr struct {
	op          string
	left, right filterExpr
}

func (e *binaryExpr) eval(row map[string]any) bool {
	if e.op == "AND" {
		return e.left.eval(row) && e.right.eval(row)
	}
	return e.left.eval(row) || e.right.eval(row)
}

type notExpr struct{ inner filterExpr }

func (e *notExpr) eval(row map[string]any) bool { return !e.inner.eval(row) }

type nullExpr struct {
	column string
	negate bool
}

func (e *nullExpr) eval(row map[string]any) bool {
	v, ok := lookupColumn(row, e.column)
	isNull := !ok || v == nil
	if e.negate {
		return !isNull
	}
	return isNull
}

type likeExpr struct {
	column string
	re     *regexp.Regexp
}

func (e *likeExpr) eval(row map[string]any) bool {
	v, ok := lookupColumn(row, e.column)
	if !ok || v == nil {
		return false
	}
	return e.re.MatchString(fmt.Sprint(v))
}

type inExpr struct {
	column string
	values []any
}

func (e *inExpr) eval(row map[string]any) bool {
	v, ok := lookupColumn(row, e.column)
	if !ok || v == nil {
		return false
	}
	for _, candidate := range e.values {
		if compareValues(v, "=", candidate) {
			return true
		}
	}
	return false
}

type compareExpr struct {
	column string
	op     string
	value  any
}

func (e *compareExpr) eval(row map[string]any) bool {
	v, ok := lookupColumn(row, e.column)
	if !ok || v == nil {
		return false
	}
	return compareValues(v, e.op, e.value)
}

// lookupColumn finds a column case-insensitively.
func lookupColumn(row map[string]any, column string) (any, bool) {
	if v, ok := row[column]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}

// compareValues compares numerically when both sides are numeric and as
// case-insensitive strings otherwise.
func compareValues(left any, op string, right any) bool {
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	if lok && rok {
		switch op {
		case "=":
			return ln == rn
		case "!=", "<>":
			return ln != rn
		case "<":
			return ln < rn
		case "<=":
			return ln <= rn
		case ">":
			return ln > rn
		case ">=":
			return ln >= rn
		}
		return false
	}

	ls := strings.ToUpper(fmt.Sprint(left))
	rs := strings.ToUpper(fmt.Sprint(right))
	switch op {
	case "=":
		return ls == rs
	case "!=", "<>":
		return ls != rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// likeToRegexp converts a SQL LIKE pattern (% and _ wildcards) to an
// anchored case-insensitive regexp.
func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, filterErr(pattern, "invalid LIKE pattern")
	}
	return re, nil
}
