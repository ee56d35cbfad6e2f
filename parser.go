package chronodb

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/autom8ter/chronodb/errors"
	"github.com/tidwall/gjson"
)

// Parse compiles a filter expression into an evaluatable Filter.
//
// Grammar (loosely):
//
//	expr       = andExpr ( "or" andExpr )*
//	andExpr    = notExpr ( "and" notExpr )*
//	notExpr    = "not" primary | primary
//	primary    = "(" expr ")" | "{" json object "}" | path op valueExpr
//	op         = "==" | "=" | "!=" | ">" | ">=" | "<" | "<=" | "contains" | "like"
//	valueExpr  = arithmetic over literals, quoted strings, bools and &path
//	             field references
//
// A json object {"k": v, ...} desugars to conjoined equality comparisons.
func Parse(input string) (Filter, error) {
	p := &parser{lex: newLexer(input)}
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseValueExpression compiles a standalone value expression, the form
// used to compute fresh field values against an entity.
func ParseValueExpression(input string) (ValueExpr, error) {
	p := &parser{lex: newLexer(input)}
	v, err := p.parseValueExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return v, nil
}

type parser struct {
	lex *lexer
}

var reservedWords = map[string]bool{"and": true, "or": true, "not": true}

func (p *parser) expectEOF() error {
	tok, err := p.lex.peek()
	if err != nil {
		return err
	}
	if tok.typ != tokenEOF {
		return errors.New(errors.Parse, "unexpected trailing input '%s'", tok.text)
	}
	return nil
}

func (p *parser) expectPunct(text string) error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	if tok.typ != tokenPunct || tok.text != text {
		return errors.New(errors.Parse, "expected '%s', got '%s'", text, tok.text)
	}
	return nil
}

func (p *parser) parseOr() (Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if tok.typ != tokenWord || tok.text != "or" {
			return left, nil
		}
		p.lex.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orExpr{left: left, right: right}
	}
}

func (p *parser) parseAnd() (Filter, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if tok.typ != tokenWord || tok.text != "and" {
			return left, nil
		}
		p.lex.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &andExpr{left: left, right: right}
	}
}

func (p *parser) parseNot() (Filter, error) {
	tok, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	if tok.typ == tokenWord && tok.text == "not" {
		p.lex.next()
		inner, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Filter, error) {
	tok, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	if tok.typ == tokenPunct && tok.text == "(" {
		p.lex.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	if tok.typ == tokenPunct && tok.text == "{" {
		return p.parseJSONFilter()
	}
	return p.parseComparison()
}

func (p *parser) parseJSONFilter() (Filter, error) {
	raw, err := p.lex.captureJSON()
	if err != nil {
		return nil, err
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() || !gjson.Valid(raw) {
		return nil, errors.New(errors.Parse, "invalid json filter: %s", raw)
	}
	var result Filter
	parsed.ForEach(func(key, value gjson.Result) bool {
		cmp := &compareExpr{path: key.String(), op: "==", value: &Literal{Value: value.Value()}}
		if result == nil {
			result = cmp
		} else {
			result = &andExpr{left: result, right: cmp}
		}
		return true
	})
	if result == nil {
		return &noneExpr{}, nil
	}
	return result, nil
}

func (p *parser) parseComparison() (Filter, error) {
	tok, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	if tok.typ != tokenWord || !isPathWord(tok.text) || reservedWords[tok.text] {
		return nil, errors.New(errors.Parse, "expected field path, got '%s'", tok.text)
	}
	path := tok.text
	opTok, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	var op string
	switch {
	case opTok.typ == tokenOp:
		op = opTok.text
	case opTok.typ == tokenWord && (opTok.text == "contains" || opTok.text == "like"):
		op = opTok.text
	default:
		return nil, errors.New(errors.Parse, "expected operator after '%s', got '%s'", path, opTok.text)
	}
	value, err := p.parseValueExpr()
	if err != nil {
		return nil, err
	}
	return &compareExpr{path: path, op: op, value: value}, nil
}

func (p *parser) parseValueExpr() (ValueExpr, error) {
	return p.parseAdd()
}

func (p *parser) parseAdd() (ValueExpr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if tok.typ != tokenArith || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.lex.next()
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = &Binary{Left: left, Op: tok.text, Right: right}
	}
}

func (p *parser) parseMul() (ValueExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := p.lex.peek()
		if err != nil {
			return nil, err
		}
		if tok.typ != tokenArith || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.lex.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Left: left, Op: tok.text, Right: right}
	}
}

func (p *parser) parseUnary() (ValueExpr, error) {
	tok, err := p.lex.peek()
	if err != nil {
		return nil, err
	}
	if tok.typ == tokenArith && tok.text == "-" {
		p.lex.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Binary{Left: &Literal{Value: float64(0)}, Op: "-", Right: inner}, nil
	}
	return p.parseTerm()
}

func (p *parser) parseTerm() (ValueExpr, error) {
	tok, err := p.lex.next()
	if err != nil {
		return nil, err
	}
	switch {
	case tok.typ == tokenPunct && tok.text == "(":
		inner, err := p.parseValueExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tok.typ == tokenAmp:
		pathTok, err := p.lex.next()
		if err != nil {
			return nil, err
		}
		if pathTok.typ != tokenWord || !isPathWord(pathTok.text) {
			return nil, errors.New(errors.Parse, "expected field path after '&', got '%s'", pathTok.text)
		}
		return &FieldRef{Path: pathTok.text}, nil
	case tok.typ == tokenString:
		return &Literal{Value: tok.text}, nil
	case tok.typ == tokenWord:
		switch strings.ToLower(tok.text) {
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		}
		if reservedWords[tok.text] {
			return nil, errors.New(errors.Parse, "unexpected keyword '%s'", tok.text)
		}
		if f, err := strconv.ParseFloat(tok.text, 64); err == nil {
			return &Literal{Value: f}, nil
		}
		return &Literal{Value: tok.text}, nil
	case tok.typ == tokenEOF:
		return nil, errors.New(errors.Parse, "unexpected end of input")
	}
	return nil, errors.New(errors.Parse, "unexpected token '%s'", tok.text)
}

// isPathWord reports whether a word token is usable as a dotted field path
func isPathWord(text string) bool {
	if text == "" {
		return false
	}
	first := []rune(text)[0]
	return unicode.IsLetter(first) || first == '_'
}
