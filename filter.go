package shapefile

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/paulmach/orb/geojson"
)

// Filter reports whether a feature's attributes match.
type Filter func(geojson.Properties) bool

// ParseFilter compiles an attribute expression such as
//
//	POP > 1000 AND (NAME = 'Paris' OR CAPITAL = TRUE)
//
// Comparisons are field op literal with op one of = <> != < <= > >=. Literals
// are quoted strings ('' escapes a quote), numbers, TRUE, FALSE and NULL.
// AND binds tighter than OR. Field names match case-insensitively. An empty
// expression yields a nil filter, which matches everything.
func ParseFilter(expr string) (Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	f, err := p.or()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidFilter, p.peek().text)
	}
	return f, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'':
			var sb strings.Builder
			j := i + 1
			for {
				if j >= len(s) {
					return nil, fmt.Errorf("%w: unterminated string", ErrInvalidFilter)
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						sb.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				sb.WriteByte(s[j])
				j++
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case strings.ContainsRune("=<>!", c):
			j := i + 1
			if j < len(s) && strings.ContainsRune("=>", rune(s[j])) {
				j++
			}
			op := s[i:j]
			switch op {
			case "=", "<>", "!=", "<", "<=", ">", ">=":
			default:
				return nil, fmt.Errorf("%w: operator %q", ErrInvalidFilter, op)
			}
			toks = append(toks, token{tokOp, op})
			i = j
		case c == '-' || c == '.' || unicode.IsDigit(c):
			j := i + 1
			for j < len(s) && (unicode.IsDigit(rune(s[j])) || strings.ContainsRune(".eE", rune(s[j])) ||
				((s[j] == '-' || s[j] == '+') && (s[j-1] == 'e' || s[j-1] == 'E'))) {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case c == '_' || unicode.IsLetter(c):
			j := i + 1
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("%w: unexpected %q at %d", ErrInvalidFilter, c, i)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek() token {
	if p.done() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if !p.done() && t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (Filter, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(props geojson.Properties) bool { return l(props) || right(props) }
	}
	return left, nil
}

func (p *parser) and() (Filter, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(props geojson.Properties) bool { return l(props) && right(props) }
	}
	return left, nil
}

func (p *parser) term() (Filter, error) {
	if p.done() {
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrInvalidFilter)
	}

	t := p.toks[p.pos]
	if t.kind == tokLParen {
		p.pos++
		f, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen || p.done() {
			return nil, fmt.Errorf("%w: missing )", ErrInvalidFilter)
		}
		p.pos++
		return f, nil
	}
	if t.kind != tokIdent {
		return nil, fmt.Errorf("%w: expected field name, got %q", ErrInvalidFilter, t.text)
	}
	p.pos++

	op := p.peek()
	if p.done() || op.kind != tokOp {
		return nil, fmt.Errorf("%w: expected operator after %s", ErrInvalidFilter, t.text)
	}
	p.pos++

	lit, err := p.literal()
	if err != nil {
		return nil, err
	}
	return comparison(t.text, op.text, lit)
}

// literal returns a string, float64, bool or nil.
func (p *parser) literal() (interface{}, error) {
	if p.done() {
		return nil, fmt.Errorf("%w: expected literal", ErrInvalidFilter)
	}
	t := p.toks[p.pos]
	p.pos++

	switch t.kind {
	case tokString:
		return t.text, nil
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrInvalidFilter, t.text)
		}
		return v, nil
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "TRUE":
			return true, nil
		case "FALSE":
			return false, nil
		case "NULL":
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: expected literal, got %q", ErrInvalidFilter, t.text)
}

func comparison(field, op string, lit interface{}) (Filter, error) {
	if op == "!=" {
		op = "<>"
	}

	switch want := lit.(type) {
	case nil:
		if op != "=" && op != "<>" {
			return nil, fmt.Errorf("%w: %s NULL", ErrInvalidFilter, op)
		}
		return func(props geojson.Properties) bool {
			return (lookupProperty(props, field) == nil) == (op == "=")
		}, nil

	case bool:
		if op != "=" && op != "<>" {
			return nil, fmt.Errorf("%w: %s on boolean", ErrInvalidFilter, op)
		}
		return func(props geojson.Properties) bool {
			got, ok := lookupProperty(props, field).(bool)
			return ok && (got == want) == (op == "=")
		}, nil

	case float64:
		return func(props geojson.Properties) bool {
			got, ok := toFloat(lookupProperty(props, field))
			return ok && compare(op, cmpFloat(got, want))
		}, nil

	case string:
		return func(props geojson.Properties) bool {
			v := lookupProperty(props, field)
			if v == nil {
				return false
			}
			return compare(op, strings.Compare(toString(v), want))
		}, nil
	}
	return nil, fmt.Errorf("%w: literal %v", ErrInvalidFilter, lit)
}

func compare(op string, c int) bool {
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func lookupProperty(props geojson.Properties, field string) interface{} {
	if v, ok := props[field]; ok {
		return v
	}
	for k, v := range props {
		if strings.EqualFold(k, field) {
			return v
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
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
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.Format("2006-01-02")
	}
	return fmt.Sprint(v)
}
