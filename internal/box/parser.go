package box

import (
	"fmt"
	"strconv"
)

// opener is a box, block or parenthesis waiting for its closer.
type opener struct {
	token Token
	label string
}

type Parser struct {
	lexer   *Lexer
	current Token
	lexErr  error

	tree     *Tree
	boxNames map[string]Span
	openers  []opener
}

func NewParser(lexer *Lexer) *Parser {
	p := &Parser{
		lexer:    lexer,
		tree:     &Tree{Filename: lexer.Filename()},
		boxNames: make(map[string]Span),
	}
	p.advance()
	return p
}

// advance moves to the next significant token. A lex error is parked and the
// parser sees EOF from then on; every error path reports the lex error first.
func (p *Parser) advance() {
	for {
		token, err := p.lexer.NextToken()
		if err != nil {
			p.lexErr = err
			p.current = Token{Kind: EOF, Span: p.current.Span}
			return
		}
		if token.Kind == COMMENT {
			continue
		}
		p.current = token
		return
	}
}

func (p *Parser) push(token Token, label string) {
	p.openers = append(p.openers, opener{token: token, label: label})
}

func (p *Parser) pop() {
	p.openers = p.openers[:len(p.openers)-1]
}

func (p *Parser) errorf(kind ErrorKind, span Span, format string, args ...any) error {
	return p.fail(kind, span, "", format, args...)
}

// fail builds a parse error with a help line. A parked lex error wins over
// anything the parser noticed afterwards.
func (p *Parser) fail(kind ErrorKind, span Span, help, format string, args ...any) error {
	if p.lexErr != nil {
		return p.lexErr
	}
	err := newError(kind, span, format, args...)
	err.Help = help
	return err
}

// unexpectedEOF reports the innermost opener that input ended inside.
func (p *Parser) unexpectedEOF() error {
	if len(p.openers) == 0 {
		return p.errorf(StructureError, p.current.Span, "unexpected end of input")
	}

	open := p.openers[len(p.openers)-1]
	var err error
	switch open.token.Kind {
	case BOX_OPEN:
		msg := "box is never closed"
		if open.label != "" {
			msg = fmt.Sprintf("box '%s' is never closed", open.label)
		}
		err = p.fail(UnbalancedStructureError, open.token.Span, "add 'end' after the last block of the box", "%s", msg)
	case LPAREN:
		err = p.fail(UnbalancedStructureError, open.token.Span, "add the missing ')'",
			"'(' is never closed")
	default:
		err = p.fail(UnbalancedStructureError, open.token.Span, "add 'end' after the last expression of the block",
			"'%s' block is never closed", open.label)
	}
	if boxErr, ok := err.(*BoxError); ok && boxErr.Kind == UnbalancedStructureError {
		boxErr.Incomplete = true
	}
	return err
}

func (p *Parser) expect(kind TokenKind, what string) (Token, error) {
	if p.current.Kind != kind {
		if p.current.Kind == EOF {
			return Token{}, p.unexpectedEOF()
		}
		return Token{}, p.errorf(StructureError, p.current.Span,
			"expected %s, found %s", what, describe(p.current))
	}
	token := p.current
	p.advance()
	return token, nil
}

// Parse consumes the whole token stream. It returns either a complete tree or
// the first error; partial trees never escape.
func (p *Parser) Parse() (*Tree, error) {
	for p.current.Kind != EOF {
		switch p.current.Kind {
		case BOX_OPEN:
			id, err := p.parseBox()
			if err != nil {
				return nil, err
			}
			p.tree.Boxes = append(p.tree.Boxes, id)
		case END:
			return nil, p.errorf(UnbalancedStructureError, p.current.Span,
				"'end' has no matching box or block")
		case RPAREN:
			return nil, p.errorf(UnbalancedStructureError, p.current.Span,
				"')' has no matching '('")
		default:
			return nil, p.fail(StructureError, p.current.Span,
				"all code lives in a block inside a box, e.g. box main do ... end end",
				"%s outside of a box", describe(p.current))
		}
	}

	if p.lexErr != nil {
		return nil, p.lexErr
	}
	return p.tree, nil
}

func (p *Parser) parseBox() (NodeID, error) {
	open := p.current
	p.push(open, "")
	p.advance()

	nameTok, err := p.expect(IDENT, "a box name")
	if err != nil {
		return NoNode, err
	}
	p.openers[len(p.openers)-1].label = nameTok.Value
	if prev, exists := p.boxNames[nameTok.Value]; exists {
		return NoNode, p.fail(StructureError, nameTok.Span, fmt.Sprintf("previous definition at %s", prev),
			"box '%s' already defined", nameTok.Value)
	}
	p.boxNames[nameTok.Value] = nameTok.Span

	id := p.tree.add(Node{
		Kind:   BoxNode,
		Parent: NoNode,
		Name:   nameTok.Value,
		Span:   open.Span,
	})

	if p.current.Kind == EXPORT {
		exports, err := p.parseExports()
		if err != nil {
			return NoNode, err
		}
		p.tree.Nodes[id].Exports = exports
	}

	for {
		switch p.current.Kind {
		case BLOCK_OPEN:
			child, err := p.parseBlock(id)
			if err != nil {
				return NoNode, err
			}
			p.tree.Nodes[id].Children = append(p.tree.Nodes[id].Children, child)
		case END:
			p.tree.Nodes[id].Span.End = p.current.Span.End
			p.pop()
			p.advance()
			return id, nil
		case EOF:
			return NoNode, p.unexpectedEOF()
		case BOX_OPEN:
			return NoNode, p.fail(StructureError, p.current.Span, fmt.Sprintf("close box '%s' with 'end' first", nameTok.Value),
				"box cannot be nested inside box '%s'", nameTok.Value)
		case ELSE:
			return NoNode, p.errorf(StructureError, p.current.Span, "'else' outside of an 'if' block")
		case EXPORT:
			return NoNode, p.errorf(StructureError, p.current.Span, "'export' must directly follow the box name")
		case RPAREN:
			return NoNode, p.errorf(UnbalancedStructureError, p.current.Span, "')' has no matching '('")
		default:
			return NoNode, p.fail(StructureError, p.current.Span, "expressions must be inside a block: do ... end",
				"%s directly inside box '%s'", describe(p.current), nameTok.Value)
		}
	}
}

func (p *Parser) parseExports() ([]Export, error) {
	p.advance() // skip export

	var exports []Export
	seen := make(map[string]bool)
	for {
		nameTok, err := p.expect(IDENT, "an exported name")
		if err != nil {
			return nil, err
		}
		if seen[nameTok.Value] {
			return nil, p.errorf(StructureError, nameTok.Span, "'%s' exported twice", nameTok.Value)
		}
		seen[nameTok.Value] = true
		exports = append(exports, Export{Name: nameTok.Value, Span: nameTok.Span})

		if p.current.Kind != COMMA {
			return exports, nil
		}
		p.advance()
	}
}

func (p *Parser) parseBlock(parent NodeID) (NodeID, error) {
	open := p.current
	purpose := purposeOf(open.Value)
	p.push(open, open.Value)
	p.advance()

	id := p.tree.add(Node{
		Kind:    BlockNode,
		Parent:  parent,
		Purpose: purpose,
		Span:    open.Span,
	})

	if purpose != Sequential {
		if !startsExpr(p.current) {
			if p.current.Kind == EOF {
				return NoNode, p.unexpectedEOF()
			}
			return NoNode, p.errorf(StructureError, p.current.Span,
				"'%s' requires a condition, found %s", open.Value, describe(p.current))
		}
		cond, err := p.parseExpr()
		if err != nil {
			return NoNode, err
		}
		p.tree.Nodes[id].Cond = cond
	}

	inElse := false
	appendChild := func(child NodeID) {
		if inElse {
			p.tree.Nodes[id].Else = append(p.tree.Nodes[id].Else, child)
		} else {
			p.tree.Nodes[id].Children = append(p.tree.Nodes[id].Children, child)
		}
	}

	for {
		switch p.current.Kind {
		case BLOCK_OPEN:
			child, err := p.parseBlock(id)
			if err != nil {
				return NoNode, err
			}
			appendChild(child)
		case ELSE:
			if purpose != Conditional {
				return NoNode, p.errorf(StructureError, p.current.Span,
					"'else' is only allowed in an 'if' block, not '%s'", open.Value)
			}
			if inElse {
				return NoNode, p.errorf(StructureError, p.current.Span, "'if' block already has an 'else' arm")
			}
			inElse = true
			p.tree.Nodes[id].HasElse = true
			p.advance()
		case END:
			p.tree.Nodes[id].Span.End = p.current.Span.End
			p.pop()
			p.advance()
			return id, nil
		case EOF:
			return NoNode, p.unexpectedEOF()
		case BOX_OPEN:
			return NoNode, p.errorf(StructureError, p.current.Span, "box cannot be declared inside a block")
		case EXPORT:
			return NoNode, p.errorf(StructureError, p.current.Span, "'export' must directly follow the box name")
		case SEMICOLON:
			p.advance()
		case RPAREN:
			return NoNode, p.errorf(UnbalancedStructureError, p.current.Span, "')' has no matching '('")
		default:
			child, err := p.parseStatement(id)
			if err != nil {
				return NoNode, err
			}
			appendChild(child)
			if p.current.Kind == SEMICOLON {
				p.advance()
			}
		}
	}
}

func (p *Parser) parseStatement(parent NodeID) (NodeID, error) {
	var expr Expr

	if p.current.Kind == LET {
		letTok := p.current
		p.advance()
		nameTok, err := p.expect(IDENT, "a name after 'let'")
		if err != nil {
			return NoNode, err
		}
		if p.current.Kind != OPERATOR || p.current.Value != "=" {
			if p.current.Kind == EOF {
				return NoNode, p.unexpectedEOF()
			}
			return NoNode, p.errorf(StructureError, p.current.Span,
				"expected '=' after 'let %s', found %s", nameTok.Value, describe(p.current))
		}
		p.advance()
		value, err := p.parseExpr()
		if err != nil {
			return NoNode, err
		}
		target := &Ident{Name: nameTok.Value, Ref: p.tree.newRef(), Span: nameTok.Span}
		expr = &Assign{Target: target, Value: value, Declare: true, Span: letTok.Span.Join(value.Pos())}
	} else {
		x, err := p.parseExpr()
		if err != nil {
			return NoNode, err
		}
		expr = x
		if p.current.Kind == OPERATOR && p.current.Value == "=" {
			switch x.(type) {
			case *Ident, *Qualified:
			default:
				return NoNode, p.errorf(StructureError, x.Pos(), "cannot assign to %s", x)
			}
			p.advance()
			value, err := p.parseExpr()
			if err != nil {
				return NoNode, err
			}
			expr = &Assign{Target: x, Value: value, Span: x.Pos().Join(value.Pos())}
		}
	}

	return p.tree.add(Node{
		Kind:   ExprNode,
		Parent: parent,
		Expr:   expr,
		Span:   expr.Pos(),
	}), nil
}

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseBinary(1)
}

// parseBinary is precedence climbing over binaryPrecedence. ** is the only
// right-associative operator.
func (p *Parser) parseBinary(minPrec int) (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.current.Kind == OPERATOR {
		op := Operator(p.current.Value)
		prec, ok := binaryPrecedence[op]
		if !ok || prec < minPrec {
			break
		}
		p.advance()

		next := prec + 1
		if op == OpPow {
			next = prec
		}
		right, err := p.parseBinary(next)
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, X: left, Y: right, Span: left.Pos().Join(right.Pos())}
	}

	return left, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.current.Kind != OPERATOR || (p.current.Value != "-" && p.current.Value != "!") {
		return p.parsePrimary()
	}

	opTok := p.current
	p.advance()
	x, err := p.parseBinary(unaryPrecedence)
	if err != nil {
		return nil, err
	}

	span := opTok.Span.Join(x.Pos())
	if opTok.Value == "!" {
		return &Unary{Op: OpNot, X: x, Span: span}, nil
	}
	if lit, ok := x.(*IntLit); ok {
		return &IntLit{Value: -lit.Value, Span: span}, nil
	}
	return &Unary{Op: OpNeg, X: x, Span: span}, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	token := p.current

	switch token.Kind {
	case INT:
		value, err := strconv.ParseInt(token.Value, 10, 64)
		if err != nil {
			return nil, p.errorf(LexError, token.Span, "integer literal %s out of range", token.Value)
		}
		p.advance()
		return &IntLit{Value: value, Span: token.Span}, nil

	case STRING:
		return nil, p.fail(StructureError, token.Span, "text can only be passed directly to print",
			"string literal outside of a print call")

	case IDENT:
		p.advance()
		if p.current.Kind == DOT {
			p.advance()
			nameTok, err := p.expect(IDENT, fmt.Sprintf("a name after '%s.'", token.Value))
			if err != nil {
				return nil, err
			}
			if p.current.Kind == LPAREN {
				return nil, p.errorf(StructureError, p.current.Span,
					"'%s.%s' cannot be called; call boxes by name", token.Value, nameTok.Value)
			}
			return &Qualified{
				Box:  token.Value,
				Name: nameTok.Value,
				Ref:  p.tree.newRef(),
				Span: token.Span.Join(nameTok.Span),
			}, nil
		}
		if p.current.Kind == LPAREN {
			return p.parseCall(token)
		}
		return &Ident{Name: token.Value, Ref: p.tree.newRef(), Span: token.Span}, nil

	case LPAREN:
		p.push(token, "(")
		p.advance()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.current.Kind != RPAREN {
			return nil, p.unclosedParen(token)
		}
		p.pop()
		p.advance()
		return x, nil

	case RPAREN:
		return nil, p.errorf(UnbalancedStructureError, token.Span, "')' has no matching '('")

	case EOF:
		return nil, p.unexpectedEOF()

	default:
		return nil, p.errorf(StructureError, token.Span, "expected an expression, found %s", describe(token))
	}
}

func (p *Parser) parseCall(nameTok Token) (Expr, error) {
	open := p.current
	p.push(open, "(")
	p.advance() // skip (

	call := &Call{Name: nameTok.Value, Ref: p.tree.newRef()}
	if p.current.Kind != RPAREN {
		for {
			var arg Expr
			if p.current.Kind == STRING && nameTok.Value == "print" {
				arg = &TextLit{Value: p.current.Value, Span: p.current.Span}
				p.advance()
			} else {
				x, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				arg = x
			}
			call.Args = append(call.Args, arg)

			if p.current.Kind != COMMA {
				break
			}
			p.advance()
		}
		if p.current.Kind != RPAREN {
			return nil, p.unclosedParen(open)
		}
	}

	call.Span = nameTok.Span.Join(p.current.Span)
	p.pop()
	p.advance() // skip )
	return call, nil
}

// unclosedParen reports a missing ')'. When the parser has already run into
// block structure the '(' itself is the culprit.
func (p *Parser) unclosedParen(open Token) error {
	switch p.current.Kind {
	case EOF:
		return p.unexpectedEOF()
	case END, ELSE, BLOCK_OPEN, BOX_OPEN, SEMICOLON:
		return p.errorf(UnbalancedStructureError, open.Span, "'(' is never closed")
	default:
		return p.errorf(StructureError, p.current.Span, "expected ')', found %s", describe(p.current))
	}
}

func startsExpr(t Token) bool {
	switch t.Kind {
	case IDENT, INT, LPAREN:
		return true
	case OPERATOR:
		return t.Value == "-" || t.Value == "!"
	default:
		return false
	}
}

func describe(t Token) string {
	switch t.Kind {
	case EOF:
		return "end of input"
	case IDENT:
		return fmt.Sprintf("identifier '%s'", t.Value)
	case INT:
		return fmt.Sprintf("expression '%s'", t.Value)
	case STRING:
		return "string literal"
	case BLOCK_OPEN:
		return fmt.Sprintf("block '%s'", t.Value)
	default:
		return fmt.Sprintf("'%s'", t.Value)
	}
}
