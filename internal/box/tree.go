package box

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/m1gwings/treedrawer/tree"
)

// DrawTree renders the box/block/expression hierarchy as a box-drawing tree
// rooted at the compilation unit.
func DrawTree(t *Tree) string {
	label := t.Filename
	if label == "" {
		label = "<unit>"
	}
	root := tree.NewTree(tree.NodeString(label))
	for _, id := range t.Boxes {
		drawNode(t, id, root)
	}
	return root.String()
}

func drawNode(t *Tree, id NodeID, parent *tree.Tree) {
	n := t.Node(id)

	switch n.Kind {
	case BoxNode:
		label := "box " + n.Name
		if len(n.Exports) > 0 {
			names := make([]string, len(n.Exports))
			for i, e := range n.Exports {
				names[i] = e.Name
			}
			label += " export " + strings.Join(names, ",")
		}
		child := parent.AddChild(tree.NodeString(label))
		for _, c := range n.Children {
			drawNode(t, c, child)
		}

	case BlockNode:
		label := n.Purpose.String()
		if n.Cond != nil {
			label += " " + n.Cond.String()
		}
		child := parent.AddChild(tree.NodeString(label))
		for _, c := range n.Children {
			drawNode(t, c, child)
		}
		if n.HasElse {
			arm := child.AddChild(tree.NodeString("else"))
			for _, c := range n.Else {
				drawNode(t, c, arm)
			}
		}

	case ExprNode:
		drawExpr(n.Expr, parent)
	}
}

func drawExpr(e Expr, parent *tree.Tree) {
	switch x := e.(type) {
	case *IntLit:
		parent.AddChild(tree.NodeString(strconv.FormatInt(x.Value, 10)))
	case *TextLit:
		parent.AddChild(tree.NodeString(strconv.Quote(x.Value)))
	case *Ident, *Qualified:
		parent.AddChild(tree.NodeString(x.String()))
	case *Unary:
		op := string(x.Op)
		if x.Op == OpNeg {
			op = "-"
		}
		drawExpr(x.X, parent.AddChild(tree.NodeString(op)))
	case *Binary:
		node := parent.AddChild(tree.NodeString(string(x.Op)))
		drawExpr(x.X, node)
		drawExpr(x.Y, node)
	case *Call:
		node := parent.AddChild(tree.NodeString(x.Name + "()"))
		for _, arg := range x.Args {
			drawExpr(arg, node)
		}
	case *Assign:
		label := "="
		if x.Declare {
			label = "let"
		}
		node := parent.AddChild(tree.NodeString(label))
		drawExpr(x.Target, node)
		drawExpr(x.Value, node)
	default:
		parent.AddChild(tree.NodeString(fmt.Sprintf("%v", e)))
	}
}
