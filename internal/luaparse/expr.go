package luaparse

import (
	"lua2svm.dev/compiler/internal/luaast"
	"lua2svm.dev/compiler/internal/lualex"
)

// binOpInfo gives the precedence level of a binary operator token, low
// to high per §4.1: or(1) and(2) comparisons(3) concat(4, right)
// add/sub(5) mul/div/mod(6) unary(7) pow(8, right). Unary is handled
// separately in unaryExpr; it never appears in this table.
type binOpInfo struct {
	op         luaast.BinaryOperator
	prec       int
	rightAssoc bool
}

var binOps = map[lualex.TokenKind]binOpInfo{
	lualex.OrToken:            {luaast.Or, 1, false},
	lualex.AndToken:           {luaast.And, 2, false},
	lualex.LessToken:          {luaast.Lt, 3, false},
	lualex.LessEqualToken:     {luaast.Le, 3, false},
	lualex.GreaterToken:       {luaast.Gt, 3, false},
	lualex.GreaterEqualToken:  {luaast.Ge, 3, false},
	lualex.EqualToken:         {luaast.Eq, 3, false},
	lualex.NotEqualToken:      {luaast.Ne, 3, false},
	lualex.ConcatToken:        {luaast.Concat, 4, true},
	lualex.AddToken:           {luaast.Add, 5, false},
	lualex.SubToken:           {luaast.Sub, 5, false},
	lualex.MulToken:           {luaast.Mul, 6, false},
	lualex.DivToken:           {luaast.Div, 6, false},
	lualex.ModToken:           {luaast.Mod, 6, false},
	lualex.PowToken:           {luaast.Pow, 8, true},
}

const unaryPrec = 7

func (p *parser) expr() (luaast.Expr, error) { return p.binExpr(0) }

// binExpr implements precedence climbing: left is parsed at a tighter
// binding than minPrec, then any run of binary operators whose
// precedence is at least minPrec is folded in left-to-right (or, for
// right-associative operators, by recursing at the same precedence).
func (p *parser) binExpr(minPrec int) (luaast.Expr, error) {
	left, err := p.unaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		info, ok := binOps[p.tok.Kind]
		if !ok || info.prec < minPrec {
			return left, nil
		}
		pos := p.pos()
		if err := p.advance(); err != nil {
			return nil, err
		}
		nextMin := info.prec + 1
		if info.rightAssoc {
			nextMin = info.prec
		}
		right, err := p.binExpr(nextMin)
		if err != nil {
			return nil, err
		}
		left = &luaast.BinOp{Op: info.op, Left: left, Right: right, ExprPos: pos}
	}
}

func (p *parser) unaryExpr() (luaast.Expr, error) {
	var op luaast.UnaryOperator
	switch p.tok.Kind {
	case lualex.NotToken:
		op = luaast.Not
	case lualex.LenToken:
		op = luaast.Len
	case lualex.SubToken:
		op = luaast.Neg
	default:
		return p.simpleExpr()
	}
	pos := p.pos()
	if err := p.advance(); err != nil {
		return nil, err
	}
	operand, err := p.binExpr(unaryPrec)
	if err != nil {
		return nil, err
	}
	return &luaast.UnaryOp{Op: op, Operand: operand, ExprPos: pos}, nil
}

// simpleExpr parses a literal, table constructor, function literal, or
// prefixexp (Name/call/paren chain with suffixes).
func (p *parser) simpleExpr() (luaast.Expr, error) {
	pos := p.pos()
	switch p.tok.Kind {
	case lualex.NilToken:
		return &luaast.Nil{ExprPos: pos}, p.advance()
	case lualex.TrueToken:
		return &luaast.True{ExprPos: pos}, p.advance()
	case lualex.FalseToken:
		return &luaast.False{ExprPos: pos}, p.advance()
	case lualex.NumeralToken:
		v := p.tok.Value
		return &luaast.Number{Value: v, ExprPos: pos}, p.advance()
	case lualex.StringToken:
		v := p.tok.Value
		return &luaast.String{Value: v, ExprPos: pos}, p.advance()
	case lualex.VarargToken:
		return &luaast.Ellipsis{ExprPos: pos}, p.advance()
	case lualex.FunctionToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		args, body, varargs, err := p.funcbody()
		if err != nil {
			return nil, err
		}
		return &luaast.Lambda{Args: args, Body: body, Varargs: varargs, ExprPos: pos}, nil
	case lualex.LBraceToken:
		return p.tableConstructor()
	default:
		return p.suffixedExpr()
	}
}

// primaryExpr parses the base of a prefixexp: a Name, or a parenthesized
// expression. A parenthesized expression is not distinguished from its
// inner expression in this AST, so `(f())` loses the single-value
// truncation Lua gives it; the specification's AST does not include a
// dedicated paren node, so this mirrors that design exactly.
func (p *parser) primaryExpr() (luaast.Expr, error) {
	pos := p.pos()
	switch p.tok.Kind {
	case lualex.IdentifierToken:
		v := p.tok.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &luaast.Name{Identifier: v, ExprPos: pos}, nil
	case lualex.LParenToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.RParenToken); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, p.errf("unexpected %v", p.tok)
	}
}

// suffixedExpr parses a primaryExpr followed by any run of `.name`,
// `[expr]`, `:name(args)`, or call-argument suffixes.
func (p *parser) suffixedExpr() (luaast.Expr, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		pos := p.pos()
		switch p.tok.Kind {
		case lualex.DotToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			e = &luaast.Attribute{Value: e, Attr: &luaast.Name{Identifier: name.Value, ExprPos: pos}, ExprPos: pos}
		case lualex.LBracketToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.RBracketToken); err != nil {
				return nil, err
			}
			e = &luaast.Subscript{Value: e, Slice: idx, ExprPos: pos}
		case lualex.ColonToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			method := &luaast.Method{Value: e, Method: &luaast.Name{Identifier: name.Value, ExprPos: pos}, ExprPos: pos}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &luaast.Call{Func: method, Args: args, ExprPos: pos}
		case lualex.LParenToken, lualex.StringToken, lualex.LBraceToken:
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &luaast.Call{Func: e, Args: args, ExprPos: pos}
		default:
			return e, nil
		}
	}
}

// callArgs parses `(explist)`, a single string literal, or a table
// constructor used as the sole call argument.
func (p *parser) callArgs() ([]luaast.Expr, error) {
	switch p.tok.Kind {
	case lualex.StringToken:
		pos := p.pos()
		v := p.tok.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		return []luaast.Expr{&luaast.String{Value: v, ExprPos: pos}}, nil
	case lualex.LBraceToken:
		t, err := p.tableConstructor()
		if err != nil {
			return nil, err
		}
		return []luaast.Expr{t}, nil
	case lualex.LParenToken:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if ok, err := p.accept(lualex.RParenToken); err != nil {
			return nil, err
		} else if ok {
			return nil, nil
		}
		args, err := p.explist()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.RParenToken); err != nil {
			return nil, err
		}
		return args, nil
	default:
		return nil, p.errf("function arguments expected near %v", p.tok)
	}
}

// tableConstructor parses `{ [fieldlist] }`; positional entries remain
// plain Exprs in Table.Fields, keyed entries become *luaast.Field.
func (p *parser) tableConstructor() (luaast.Expr, error) {
	pos := p.pos()
	if _, err := p.expect(lualex.LBraceToken); err != nil {
		return nil, err
	}
	var fields []luaast.Expr
	for !p.at(lualex.RBraceToken) {
		fieldPos := p.pos()
		switch {
		case p.at(lualex.LBracketToken):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.RBracketToken); err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.AssignToken); err != nil {
				return nil, err
			}
			value, err := p.expr()
			if err != nil {
				return nil, err
			}
			fields = append(fields, &luaast.Field{Key: key, Value: value, ExprPos: fieldPos})
		case p.at(lualex.IdentifierToken):
			// Ambiguous with a bare-name positional entry; only a
			// following `=` commits to the keyed form.
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			if p.at(lualex.AssignToken) {
				if err := p.advance(); err != nil {
					return nil, err
				}
				value, err := p.expr()
				if err != nil {
					return nil, err
				}
				key := &luaast.String{Value: name.Value, ExprPos: fieldPos}
				fields = append(fields, &luaast.Field{Key: key, Value: value, ExprPos: fieldPos})
				break
			}
			e, err := p.resumeSuffixed(&luaast.Name{Identifier: name.Value, ExprPos: fieldPos})
			if err != nil {
				return nil, err
			}
			full, err := p.continueBinExpr(e, 0)
			if err != nil {
				return nil, err
			}
			fields = append(fields, full)
		default:
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			fields = append(fields, e)
		}

		ok, err := p.accept(lualex.CommaToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			ok, err = p.accept(lualex.SemiToken)
			if err != nil {
				return nil, err
			}
		}
		if !ok {
			break
		}
	}
	if _, err := p.expect(lualex.RBraceToken); err != nil {
		return nil, err
	}
	return &luaast.Table{Fields: fields, ExprPos: pos}, nil
}

// resumeSuffixed continues parsing suffixes (`.x`, `[e]`, `:m(...)`,
// call arguments) onto an already-parsed primary expression base; used
// when tableConstructor has to speculatively consume a bare identifier
// before knowing whether it is a keyed-field name or the start of a
// positional expression.
func (p *parser) resumeSuffixed(base luaast.Expr) (luaast.Expr, error) {
	e := base
	for {
		pos := p.pos()
		switch p.tok.Kind {
		case lualex.DotToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			e = &luaast.Attribute{Value: e, Attr: &luaast.Name{Identifier: name.Value, ExprPos: pos}, ExprPos: pos}
		case lualex.LBracketToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			idx, err := p.expr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.RBracketToken); err != nil {
				return nil, err
			}
			e = &luaast.Subscript{Value: e, Slice: idx, ExprPos: pos}
		case lualex.ColonToken:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.IdentifierToken)
			if err != nil {
				return nil, err
			}
			method := &luaast.Method{Value: e, Method: &luaast.Name{Identifier: name.Value, ExprPos: pos}, ExprPos: pos}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &luaast.Call{Func: method, Args: args, ExprPos: pos}
		case lualex.LParenToken, lualex.StringToken, lualex.LBraceToken:
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &luaast.Call{Func: e, Args: args, ExprPos: pos}
		default:
			return e, nil
		}
	}
}

// continueBinExpr folds in any binary-operator tail following an
// already-parsed operand, mirroring binExpr's loop for the case where
// the left operand was parsed speculatively (see resumeSuffixed).
func (p *parser) continueBinExpr(left luaast.Expr, minPrec int) (luaast.Expr, error) {
	for {
		info, ok := binOps[p.tok.Kind]
		if !ok || info.prec < minPrec {
			return left, nil
		}
		pos := p.pos()
		if err := p.advance(); err != nil {
			return nil, err
		}
		nextMin := info.prec + 1
		if info.rightAssoc {
			nextMin = info.prec
		}
		right, err := p.binExpr(nextMin)
		if err != nil {
			return nil, err
		}
		left = &luaast.BinOp{Op: info.op, Left: left, Right: right, ExprPos: pos}
	}
}
