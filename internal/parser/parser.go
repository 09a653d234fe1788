// Package parser turns formula text into a compiled program.Program,
// driving a program.Builder directly from a precedence-climbing
// descent over the grammar in place of building then walking a
// separate AST — sentra's own parser builds an AST because its grammar
// has statements and user functions to resolve later; a formula is a
// single expression evaluated once, so there is nothing later passes
// would need the tree for. Malformed input is signaled the way
// sentra's parser signals it: a panic carrying a *parseError, caught
// at the single exported entry point and turned into a
// *rmerrors.ParseError.
package parser

import (
	"strconv"

	"rastermath/internal/lexer"
	"rastermath/internal/program"
	"rastermath/internal/rmerrors"
)

type parseError struct {
	pos int
	msg string
}

func (e *parseError) Error() string { return e.msg }

// Parser walks formula's token stream, appending steps to b as it
// reduces each production.
type Parser struct {
	formula string
	tokens  []lexer.Token
	current int
	b       *program.Builder
}

// Parse compiles formula against b and returns the shape of its final
// expression (the shape Runner uses to decide which Finalize* method
// to call). It is the only exported entry point; internal productions
// panic on malformed input and this function is the only place that
// recovers.
func Parse(formula string, b *program.Builder) (shape program.Shape, err error) {
	tokens, lexErr := lexer.Tokenize(formula)
	if lexErr != nil {
		return program.Shape{}, rmerrors.NewParseError(formula, 0, lexErr.Error())
	}
	p := &Parser{formula: formula, tokens: tokens, b: b}
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(*parseError); ok {
				err = rmerrors.NewParseError(formula, pe.pos, pe.msg)
				return
			}
			panic(r)
		}
	}()
	shape = p.fullexpr()
	if !p.isAtEnd() {
		p.fail("unexpected trailing input after a complete formula")
	}
	return shape, nil
}

func (p *Parser) fail(msg string) {
	panic(&parseError{pos: p.peek().Pos, msg: msg})
}

func (p *Parser) peek() lexer.Token     { return p.tokens[p.current] }
func (p *Parser) previous() lexer.Token { return p.tokens[p.current-1] }
func (p *Parser) isAtEnd() bool         { return p.peek().Type == lexer.TokenEOF }

func (p *Parser) advance() lexer.Token {
	if !p.isAtEnd() {
		p.current++
	}
	return p.previous()
}

func (p *Parser) check(t lexer.TokenType) bool {
	return !p.isAtEnd() && p.peek().Type == t
}

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) consume(t lexer.TokenType, msg string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	p.fail(msg)
	return lexer.Token{}
}

// checkWord/matchWord recognize keyword-like identifiers (function and
// constant names, and the "or"/"and"/"not" operator spellings) without
// the lexer needing a keyword table of its own. The grammar is
// case-sensitive and its keywords are lowercase, so this is an exact
// match, not a fold.
func (p *Parser) checkWord(word string) bool {
	return p.check(lexer.TokenIdent) && p.peek().Lexeme == word
}

func (p *Parser) matchWord(word string) bool {
	if p.checkWord(word) {
		p.advance()
		return true
	}
	return false
}

// fullexpr is the grammar's entry production.
func (p *Parser) fullexpr() program.Shape {
	return p.expr8()
}

// expr8 := expr7 (('|'|'or'|'&'|'and') expr7)* — left-assoc, mixing OR
// and AND at a single precedence level exactly as the grammar states.
func (p *Parser) expr8() program.Shape {
	lhsShape := p.expr7()
	for {
		var op string
		switch {
		case p.match(lexer.TokenPipe) || p.matchWord("or"):
			op = "|"
		case p.match(lexer.TokenAmp) || p.matchWord("and"):
			op = "&"
		default:
			return lhsShape
		}
		rhsShape := p.expr7()
		_, shape, err := p.b.PushBinary(op, lhsShape, rhsShape)
		if err != nil {
			p.fail(err.Error())
		}
		lhsShape = shape
	}
}

// expr7 := expr6 | ('!'|'not') expr6
func (p *Parser) expr7() program.Shape {
	if p.match(lexer.TokenBang) || p.matchWord("not") {
		argShape := p.expr6()
		_, shape, err := p.b.PushUnary("!", argShape)
		if err != nil {
			p.fail(err.Error())
		}
		return shape
	}
	return p.expr6()
}

var comparisonTokens = map[lexer.TokenType]string{
	lexer.TokenEqual: "=", lexer.TokenNotEq: "!=", lexer.TokenLT: "<",
	lexer.TokenGT: ">", lexer.TokenLE: "<=", lexer.TokenGE: ">=",
}

// expr6 := expr5 [comparison expr5] — at most one; comparisons don't chain.
func (p *Parser) expr6() program.Shape {
	lhsShape := p.expr5()
	if op, ok := comparisonTokens[p.peek().Type]; ok {
		p.advance()
		rhsShape := p.expr5()
		_, shape, err := p.b.PushBinary(op, lhsShape, rhsShape)
		if err != nil {
			p.fail(err.Error())
		}
		return shape
	}
	return lhsShape
}

// expr5 := expr4 (('+'|'-') expr4)* — left-assoc.
func (p *Parser) expr5() program.Shape {
	lhsShape := p.expr4()
	for {
		var op string
		switch {
		case p.match(lexer.TokenPlus):
			op = "+"
		case p.match(lexer.TokenMinus):
			op = "-"
		default:
			return lhsShape
		}
		rhsShape := p.expr4()
		_, shape, err := p.b.PushBinary(op, lhsShape, rhsShape)
		if err != nil {
			p.fail(err.Error())
		}
		lhsShape = shape
	}
}

// expr4 := ('-'|'+')? expr3 — a leading '+' is a no-op; a leading '-' negates.
func (p *Parser) expr4() program.Shape {
	if p.match(lexer.TokenPlus) {
		return p.expr3()
	}
	if p.match(lexer.TokenMinus) {
		argShape := p.expr3()
		_, shape, err := p.b.PushUnary("-", argShape)
		if err != nil {
			p.fail(err.Error())
		}
		return shape
	}
	return p.expr3()
}

// expr3 := expr2 (('*'|'/'|'%') expr2)* — left-assoc.
func (p *Parser) expr3() program.Shape {
	lhsShape := p.expr2()
	for {
		var op string
		switch {
		case p.match(lexer.TokenStar):
			op = "*"
		case p.match(lexer.TokenSlash):
			op = "/"
		case p.match(lexer.TokenPct):
			op = "%"
		default:
			return lhsShape
		}
		rhsShape := p.expr2()
		_, shape, err := p.b.PushBinary(op, lhsShape, rhsShape)
		if err != nil {
			p.fail(err.Error())
		}
		lhsShape = shape
	}
}

// expr2 := expr1 ('^' expr1)* — left-assoc, so "2^3^2" is (2^3)^2 = 64.
func (p *Parser) expr2() program.Shape {
	lhsShape := p.expr1()
	for p.match(lexer.TokenCaret) {
		rhsShape := p.expr1()
		_, shape, err := p.b.PushBinary("^", lhsShape, rhsShape)
		if err != nil {
			p.fail(err.Error())
		}
		lhsShape = shape
	}
	return lhsShape
}

var unary1Names = map[string]bool{
	"abs": true, "sqrt": true, "exp": true, "log10": true, "log2": true,
	"log": true, "acos": true, "cos": true, "asin": true, "sin": true,
	"atan": true, "tan": true, "cosh": true, "sinh": true, "tanh": true,
}

var unary2Names = map[string]bool{"atan2": true, "logn": true}

var stat1Names = map[string]string{
	"min": "min", "max": "max", "mean": "mean", "avg": "mean",
	"geomean": "geomean", "harmean": "harmean", "sum": "sum", "stdev": "stdev",
}

// expr1 := fullref | group | function | constant | number
func (p *Parser) expr1() program.Shape {
	if p.check(lexer.TokenLParen) {
		return p.group()
	}
	if p.check(lexer.TokenNumber) {
		return p.number()
	}
	if shape, ok := p.tryFullref(); ok {
		return shape
	}
	if shape, ok := p.tryFunction(); ok {
		return shape
	}
	if shape, ok := p.tryConstant(); ok {
		return shape
	}
	p.fail("expected a number, raster/AOI reference, function call, or parenthesized expression")
	return program.Shape{}
}

func (p *Parser) group() program.Shape {
	p.consume(lexer.TokenLParen, "expect '('")
	shape := p.fullexpr()
	p.consume(lexer.TokenRParen, "expect ')' to close group")
	return shape
}

func (p *Parser) number() program.Shape {
	tok := p.consume(lexer.TokenNumber, "expect a number")
	v, err := strconv.ParseFloat(tok.Lexeme, 64)
	if err != nil {
		p.fail("malformed number literal " + tok.Lexeme)
	}
	return numberShape(p.b.PushNumber(v))
}

func numberShape(s *program.Step) program.Shape {
	return program.Shape{Bands: s.Bands, Rows: s.Rows, Cols: s.Cols}
}

func (p *Parser) tryConstant() (program.Shape, bool) {
	switch {
	case p.matchWord("pi"):
		return numberShape(p.b.PushNumber(3.14159265358979323846)), true
	case p.matchWord("e"):
		return numberShape(p.b.PushNumber(2.71828182845904523536)), true
	}
	return program.Shape{}, false
}

// tryFullref recognizes 'r'[1-5] (with an optional band subscript) or
// 'a'[1-5]. It does not consume input on a non-match, so callers can
// fall through to the next alternative.
func (p *Parser) tryFullref() (program.Shape, bool) {
	if !p.check(lexer.TokenIdent) {
		return program.Shape{}, false
	}
	lex := p.peek().Lexeme
	if len(lex) != 2 || lex[1] < '1' || lex[1] > '5' {
		return program.Shape{}, false
	}
	index := int(lex[1] - '0')
	switch lex[0] {
	case 'r':
		p.advance()
		return p.rasterSuffix(index), true
	case 'a':
		p.advance()
		_, shape, err := p.b.PushAoi(index)
		if err != nil {
			p.fail(err.Error())
		}
		return shape, true
	}
	return program.Shape{}, false
}

// rasterSuffix parses the optional bracketed band subscript following
// 'r'[1-5] and emits the matching Builder call (§4.2/§4.3's four
// subscript forms; indices are 1-based in formula text, converted
// 0-based here rather than via the original's repeated-NUMBER-push
// convention — the builder already receives resolved int bounds).
func (p *Parser) rasterSuffix(index int) program.Shape {
	if !p.match(lexer.TokenLBracket) {
		_, shape, err := p.b.PushFullRaster(index)
		if err != nil {
			p.fail(err.Error())
		}
		return shape
	}
	if p.match(lexer.TokenColon) {
		n := p.bandLiteral()
		p.consume(lexer.TokenRBracket, "expect ']' to close band slice")
		_, shape, err := p.b.PushRaster0toNSlice(index, n)
		if err != nil {
			p.fail(err.Error())
		}
		return shape
	}
	m := p.bandLiteral()
	if p.match(lexer.TokenRBracket) {
		_, shape, err := p.b.PushRasterIndex(index, m-1)
		if err != nil {
			p.fail(err.Error())
		}
		return shape
	}
	p.consume(lexer.TokenColon, "expect ':' in band slice")
	if p.match(lexer.TokenRBracket) {
		_, shape, err := p.b.PushRasterNtoEndSlice(index, m-1)
		if err != nil {
			p.fail(err.Error())
		}
		return shape
	}
	n := p.bandLiteral()
	p.consume(lexer.TokenRBracket, "expect ']' to close band slice")
	_, shape, err := p.b.PushRasterFullSlice(index, m-1, n-1)
	if err != nil {
		p.fail(err.Error())
	}
	return shape
}

func (p *Parser) bandLiteral() int {
	tok := p.consume(lexer.TokenNumber, "expect an integer band index")
	n, err := strconv.Atoi(tok.Lexeme)
	if err != nil {
		p.fail("band index must be a plain integer, got " + tok.Lexeme)
	}
	return n
}

// tryFunction recognizes unary1/unary2/clamp/stat1 function calls.
func (p *Parser) tryFunction() (program.Shape, bool) {
	if !p.check(lexer.TokenIdent) {
		return program.Shape{}, false
	}
	name := p.peek().Lexeme

	if unary1Names[name] {
		p.advance()
		argShape := p.group()
		_, shape, err := p.b.PushUnary(name, argShape)
		if err != nil {
			p.fail(err.Error())
		}
		return shape, true
	}
	if unary2Names[name] {
		p.advance()
		p.consume(lexer.TokenLParen, "expect '(' after "+name)
		lhsShape := p.fullexpr()
		p.consume(lexer.TokenComma, "expect ',' between "+name+" arguments")
		rhsShape := p.fullexpr()
		p.consume(lexer.TokenRParen, "expect ')' to close "+name)
		_, shape, err := p.b.PushBinary(name, lhsShape, rhsShape)
		if err != nil {
			p.fail(err.Error())
		}
		return shape, true
	}
	if name == "clamp" {
		p.advance()
		p.consume(lexer.TokenLParen, "expect '(' after clamp")
		valueShape := p.fullexpr()
		p.consume(lexer.TokenComma, "expect ',' after clamp value")
		loShape := p.fullexpr()
		p.consume(lexer.TokenComma, "expect ',' after clamp lower bound")
		hiShape := p.fullexpr()
		p.consume(lexer.TokenRParen, "expect ')' to close clamp")
		_, shape, err := p.b.PushTernary("clamp", valueShape, loShape, hiShape)
		if err != nil {
			p.fail(err.Error())
		}
		return shape, true
	}
	if reducerName, ok := stat1Names[name]; ok {
		p.advance()
		p.consume(lexer.TokenLParen, "expect '(' after "+name)
		start := len(p.b.Steps())
		argShape := p.fullexpr()
		p.consume(lexer.TokenRParen, "expect ')' to close "+name)
		argSteps := append([]*program.Step(nil), p.b.Steps()[start:]...)
		p.b.Truncate(start)
		s := p.b.PushStat(reducerName, argSteps, argShape)
		return program.Shape{Bands: s.Bands, Rows: s.Rows, Cols: s.Cols}, true
	}
	return program.Shape{}, false
}
