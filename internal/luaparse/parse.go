// Package luaparse implements a hand-written recursive-descent parser
// for Lua 5.2, producing the [luaast] tree. There is no yacc/peg
// grammar file in the retrieved reference material to adapt, so the
// grammar is ported directly from its production rules into Go
// methods, one per nonterminal, following the operator-precedence
// table the specification gives explicitly rather than encoding
// precedence into the grammar's shape.
//
// Grounded in orz/lua/parse.py's grammar (bruce2008github/orz) for
// production shapes and desugaring rules, and in 256lights-zb's
// internal/luacode/parser.go for the Go idiom of a single-token-
// lookahead parser carrying its own *lualex.Scanner.
package luaparse

import (
	"fmt"
	"io"

	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/luaerr"
	"lua2svm.dev/compiler/internal/lualex"
)

// Parse reads all of r as Lua 5.2 source named filename and returns
// its AST, or the first lexical or syntax error encountered.
func Parse(r io.ByteScanner, filename string) (*luaast.File, error) {
	p := &parser{scanner: lualex.NewScanner(r), filename: filename}
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lualex.ErrorToken {
		return nil, p.errf("unexpected %v", p.tok)
	}
	return &luaast.File{Body: body, Filename: filename}, nil
}

type parser struct {
	scanner  *lualex.Scanner
	filename string
	tok      lualex.Token
	atEOF    bool
}

func (p *parser) pos() luaast.Position {
	return luaast.Position{Line: p.tok.Position.Line, Column: p.tok.Position.Column}
}

func (p *parser) errf(format string, args ...any) error {
	pos := p.pos()
	return &luaerr.SyntaxError{Filename: p.filename, Line: pos.Line, Column: pos.Column, Msg: fmt.Sprintf(format, args...)}
}

// advance discards the current token and reads the next one. At end of
// input, p.tok becomes a zero-value ErrorToken and p.atEOF is set; this
// is how the grammar's many "is the next token one of ..." checks
// naturally fail closed once input is exhausted.
func (p *parser) advance() error {
	tok, err := p.scanner.Scan()
	if err != nil {
		if err == io.EOF {
			p.tok = lualex.Token{Kind: lualex.ErrorToken}
			p.atEOF = true
			return nil
		}
		return &luaerr.LexicalError{
			Filename: p.filename,
			Line:     tok.Position.Line,
			Column:   tok.Position.Column,
			Msg:      err.Error(),
		}
	}
	p.tok = tok
	return nil
}

func (p *parser) at(kind lualex.TokenKind) bool { return !p.atEOF && p.tok.Kind == kind }

func (p *parser) expect(kind lualex.TokenKind) (lualex.Token, error) {
	if !p.at(kind) {
		return lualex.Token{}, p.errf("expected %v, got %v", kind, p.tok)
	}
	tok := p.tok
	if err := p.advance(); err != nil {
		return lualex.Token{}, err
	}
	return tok, nil
}

func (p *parser) accept(kind lualex.TokenKind) (bool, error) {
	if !p.at(kind) {
		return false, nil
	}
	if err := p.advance(); err != nil {
		return false, err
	}
	return true, nil
}

// blockFollow reports whether the current token can only appear after
// a block: the set of tokens that terminate a statement list.
func (p *parser) blockFollow() bool {
	if p.atEOF {
		return true
	}
	switch p.tok.Kind {
	case lualex.EndToken, lualex.ElseToken, lualex.ElseifToken, lualex.UntilToken:
		return true
	default:
		return false
	}
}

func (p *parser) block() ([]luaast.Stmt, error) {
	var stmts []luaast.Stmt
	for !p.blockFollow() {
		if p.at(lualex.ReturnToken) {
			ret, err := p.returnStat()
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, ret)
			break
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

func (p *parser) returnStat() (luaast.Stmt, error) {
	pos := p.pos()
	if err := mustAdvance(p); err != nil {
		return nil, err
	}
	var values []luaast.Expr
	if !p.blockFollow() && !p.at(lualex.SemiToken) {
		var err error
		values, err = p.explist()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.accept(lualex.SemiToken); err != nil {
		return nil, err
	}
	return &luaast.Return{Value: values, StmtPos: pos}, nil
}

func mustAdvance(p *parser) error { return p.advance() }

func (p *parser) statement() (luaast.Stmt, error) {
	pos := p.pos()
	switch p.tok.Kind {
	case lualex.SemiToken:
		return nil, p.advance()
	case lualex.IfToken:
		return p.ifStat()
	case lualex.WhileToken:
		return p.whileStat()
	case lualex.DoToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.EndToken); err != nil {
			return nil, err
		}
		return &luaast.Block{Body: body, StmtPos: pos}, nil
	case lualex.ForToken:
		return p.forStat()
	case lualex.RepeatToken:
		return p.repeatStat()
	case lualex.FunctionToken:
		return p.functionStat()
	case lualex.LocalToken:
		return p.localStat()
	case lualex.LabelToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.LabelToken); err != nil {
			return nil, err
		}
		return &luaast.Label{Name: name.Value, StmtPos: pos}, nil
	case lualex.BreakToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &luaast.Break{StmtPos: pos}, nil
	case lualex.GotoToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		return &luaast.Goto{Target: name.Value, StmtPos: pos}, nil
	default:
		return p.exprStat()
	}
}

func (p *parser) ifStat() (luaast.Stmt, error) {
	pos := p.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	test, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.ThenToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	n := &luaast.If{Test: test, Body: &luaast.Block{Body: body, StmtPos: pos}, StmtPos: pos}
	switch p.tok.Kind {
	case lualex.ElseifToken:
		orelse, err := p.ifStat()
		if err != nil {
			return nil, err
		}
		n.Orelse = orelse
		return n, nil
	case lualex.ElseToken:
		elsePos := p.pos()
		if err := p.advance(); err != nil {
			return nil, err
		}
		elseBody, err := p.block()
		if err != nil {
			return nil, err
		}
		n.Orelse = &luaast.Block{Body: elseBody, StmtPos: elsePos}
	}
	if _, err := p.expect(lualex.EndToken); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) whileStat() (luaast.Stmt, error) {
	pos := p.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	test, err := p.expr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.DoToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.EndToken); err != nil {
		return nil, err
	}
	return &luaast.While{Test: test, Body: &luaast.Block{Body: body, StmtPos: pos}, StmtPos: pos}, nil
}

func (p *parser) repeatStat() (luaast.Stmt, error) {
	pos := p.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.UntilToken); err != nil {
		return nil, err
	}
	test, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &luaast.Repeat{Body: &luaast.Block{Body: body, StmtPos: pos}, Test: test, StmtPos: pos}, nil
}

func (p *parser) forStat() (luaast.Stmt, error) {
	pos := p.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	first, err := p.expect(lualex.IdentifierToken)
	if err != nil {
		return nil, err
	}
	if p.at(lualex.AssignToken) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		start, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.CommaToken); err != nil {
			return nil, err
		}
		stop, err := p.expr()
		if err != nil {
			return nil, err
		}
		step := luaast.Expr(&luaast.Number{Value: "1", ExprPos: pos})
		if ok, err := p.accept(lualex.CommaToken); err != nil {
			return nil, err
		} else if ok {
			step, err = p.expr()
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(lualex.DoToken); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.EndToken); err != nil {
			return nil, err
		}
		target := &luaast.Name{Identifier: first.Value, ExprPos: pos}
		return &luaast.For{Target: target, Start: start, Stop: stop, Step: step, Body: &luaast.Block{Body: body, StmtPos: pos}, StmtPos: pos}, nil
	}

	targets := []*luaast.Name{{Identifier: first.Value, ExprPos: pos}}
	for {
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		namePos := p.pos()
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		targets = append(targets, &luaast.Name{Identifier: name.Value, ExprPos: namePos})
	}
	if _, err := p.expect(lualex.InToken); err != nil {
		return nil, err
	}
	iter, err := p.explist()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.DoToken); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.EndToken); err != nil {
		return nil, err
	}
	return &luaast.ForEach{Target: targets, Iter: iter, Body: &luaast.Block{Body: body, StmtPos: pos}, StmtPos: pos}, nil
}

// functionStat parses `function funcname funcbody`, desugaring
// `function a.b.c:m(...) ... end` to a Method name with an implicit
// leading `self` parameter.
func (p *parser) functionStat() (luaast.Stmt, error) {
	pos := p.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	namePos := p.pos()
	first, err := p.expect(lualex.IdentifierToken)
	if err != nil {
		return nil, err
	}
	var name luaast.Expr = &luaast.Name{Identifier: first.Value, ExprPos: namePos}
	for p.at(lualex.DotToken) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		attrPos := p.pos()
		attr, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		name = &luaast.Attribute{Value: name, Attr: &luaast.Name{Identifier: attr.Value, ExprPos: attrPos}, ExprPos: attrPos}
	}
	isMethod := false
	if p.at(lualex.ColonToken) {
		if err := p.advance(); err != nil {
			return nil, err
		}
		methodPos := p.pos()
		method, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		name = &luaast.Method{Value: name, Method: &luaast.Name{Identifier: method.Value, ExprPos: methodPos}, ExprPos: methodPos}
		isMethod = true
	}
	args, body, varargs, err := p.funcbody()
	if err != nil {
		return nil, err
	}
	if isMethod {
		self := &luaast.Name{Identifier: "self", ExprPos: pos}
		args = append([]*luaast.Name{self}, args...)
	}
	return &luaast.Function{Name: name, Args: args, Body: body, Varargs: varargs, StmtPos: pos}, nil
}

func (p *parser) localStat() (luaast.Stmt, error) {
	pos := p.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	if ok, err := p.accept(lualex.FunctionToken); err != nil {
		return nil, err
	} else if ok {
		namePos := p.pos()
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		args, body, varargs, err := p.funcbody()
		if err != nil {
			return nil, err
		}
		return &luaast.FunctionLocal{Name: &luaast.Name{Identifier: name.Value, ExprPos: namePos}, Args: args, Body: body, Varargs: varargs, StmtPos: pos}, nil
	}

	var targets []*luaast.Name
	for {
		namePos := p.pos()
		name, err := p.expect(lualex.IdentifierToken)
		if err != nil {
			return nil, err
		}
		targets = append(targets, &luaast.Name{Identifier: name.Value, ExprPos: namePos})
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	var values []luaast.Expr
	if ok, err := p.accept(lualex.AssignToken); err != nil {
		return nil, err
	} else if ok {
		values, err = p.explist()
		if err != nil {
			return nil, err
		}
	}
	return &luaast.AssignLocal{Target: targets, Value: values, StmtPos: pos}, nil
}

// funcbody parses `( [parlist] ) block end`.
func (p *parser) funcbody() (args []*luaast.Name, body *luaast.Block, varargs bool, err error) {
	pos := p.pos()
	if _, err = p.expect(lualex.LParenToken); err != nil {
		return nil, nil, false, err
	}
	for !p.at(lualex.RParenToken) {
		if p.at(lualex.VarargToken) {
			if err = p.advance(); err != nil {
				return nil, nil, false, err
			}
			varargs = true
			break
		}
		namePos := p.pos()
		name, nerr := p.expect(lualex.IdentifierToken)
		if nerr != nil {
			return nil, nil, false, nerr
		}
		args = append(args, &luaast.Name{Identifier: name.Value, ExprPos: namePos})
		ok, aerr := p.accept(lualex.CommaToken)
		if aerr != nil {
			return nil, nil, false, aerr
		}
		if !ok {
			break
		}
	}
	if _, err = p.expect(lualex.RParenToken); err != nil {
		return nil, nil, false, err
	}
	stmts, berr := p.block()
	if berr != nil {
		return nil, nil, false, berr
	}
	if _, err = p.expect(lualex.EndToken); err != nil {
		return nil, nil, false, err
	}
	return args, &luaast.Block{Body: stmts, StmtPos: pos}, varargs, nil
}

// exprStat parses a statement that starts with a prefixexp: either a
// (possibly multiple) assignment, or a bare call.
func (p *parser) exprStat() (luaast.Stmt, error) {
	pos := p.pos()
	first, err := p.suffixedExpr()
	if err != nil {
		return nil, err
	}
	if p.at(lualex.AssignToken) || p.at(lualex.CommaToken) {
		targets := []luaast.Expr{first}
		for p.at(lualex.CommaToken) {
			if err := p.advance(); err != nil {
				return nil, err
			}
			next, err := p.suffixedExpr()
			if err != nil {
				return nil, err
			}
			targets = append(targets, next)
		}
		if _, err := p.expect(lualex.AssignToken); err != nil {
			return nil, err
		}
		values, err := p.explist()
		if err != nil {
			return nil, err
		}
		return &luaast.Assign{Target: targets, Value: values, StmtPos: pos}, nil
	}
	call, ok := first.(*luaast.Call)
	if !ok {
		return nil, p.errf("syntax error: expression used as a statement")
	}
	return &luaast.CallStatement{Call: call, StmtPos: pos}, nil
}

func (p *parser) explist() ([]luaast.Expr, error) {
	var out []luaast.Expr
	for {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}
	return out, nil
}
