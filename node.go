package saft

import (
	"encoding/xml"
	"strings"

	"github.com/shopspring/decimal"
)

// maxResolveDepth bounds the breadth-first alias search under a record
// subtree. Record elements in audit files nest shallowly; the bound keeps a
// lookup from degenerating into a whole-subtree scan on pathological input.
const maxResolveDepth = 4

// Node is a namespace-stripped element subtree. The traversal engine
// materializes one record element at a time as a Node and drops it when the
// handler returns, so the live set never exceeds the open-ancestor chain.
type Node struct {
	Name     string
	Text     string
	Attr     map[string]string
	Children []*Node
}

// readNode consumes tokens from d until the element opened by start closes,
// returning the subtree. ends, when non-nil, is incremented for every element
// close consumed so the engine's event count stays accurate.
func readNode(d *xml.Decoder, start xml.StartElement, ends *int64) (*Node, error) {
	n := &Node{Name: start.Name.Local}
	if len(start.Attr) > 0 {
		n.Attr = make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			n.Attr[a.Name.Local] = a.Value
		}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := readNode(d, t, ends)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case xml.EndElement:
			if ends != nil {
				*ends++
			}
			return n, nil
		case xml.CharData:
			n.Text += string(t)
		}
	}
}

// text returns the trimmed element text, empty when whitespace-only.
func (n *Node) text() string {
	return strings.TrimSpace(n.Text)
}

// walk visits n and all descendants depth-first.
func (n *Node) walk(f func(*Node)) {
	f(n)
	for _, c := range n.Children {
		c.walk(f)
	}
}

// resolver answers canonical-field lookups against node subtrees using an
// alias table. It is read-only and shared by both parsing paths.
type resolver struct {
	aliases AliasTable
}

// bfs visits nodes breadth-first down to maxResolveDepth, stopping early when
// visit returns true.
func bfs(root *Node, visit func(*Node) bool) bool {
	level := []*Node{root}
	for depth := 0; depth <= maxResolveDepth && len(level) > 0; depth++ {
		var next []*Node
		for _, n := range level {
			if visit(n) {
				return true
			}
			next = append(next, n.Children...)
		}
		level = next
	}
	return false
}

// First resolves a canonical field to its first non-empty value under root.
// Aliases are tried in table order; within one alias the first match in
// breadth order wins. Element text is preferred, then a same-named attribute.
func (r resolver) First(root *Node, field string) (string, bool) {
	for _, alias := range r.aliases.Lookup(field) {
		var value string
		found := bfs(root, func(n *Node) bool {
			if n.Name != alias {
				return false
			}
			if t := n.text(); t != "" {
				value = t
				return true
			}
			if av := strings.TrimSpace(n.Attr[alias]); av != "" {
				value = av
				return true
			}
			return false
		})
		if found {
			return value, true
		}
	}
	return "", false
}

// Amount resolves a canonical amount field to an exact decimal. A matching
// node contributes, in order: its own text, the text of a child named
// Amount (amount fields wrap their value one level down in some producer
// dialects), then an Amount attribute. Unparseable candidates are skipped so
// a later sibling can still satisfy the lookup.
func (r resolver) Amount(root *Node, field string) (decimal.Decimal, bool) {
	var out decimal.Decimal
	for _, alias := range r.aliases.Lookup(field) {
		found := bfs(root, func(n *Node) bool {
			if n.Name != alias {
				return false
			}
			if t := n.text(); t != "" {
				if d, err := ParseAmount(t); err == nil {
					out = d
					return true
				}
			}
			for _, c := range n.Children {
				if c.Name == "Amount" {
					if t := c.text(); t != "" {
						if d, err := ParseAmount(t); err == nil {
							out = d
							return true
						}
					}
					break
				}
			}
			if av := n.Attr["Amount"]; av != "" {
				if d, err := ParseAmount(av); err == nil {
					out = d
					return true
				}
			}
			return false
		})
		if found {
			return out, true
		}
	}
	return decimal.Zero, false
}

// AmountOr is Amount with a zero default for optional fields.
func (r resolver) AmountOr(root *Node, field string) decimal.Decimal {
	d, _ := r.Amount(root, field)
	return d
}

// lineAmounts derives the signed amount of a transaction line from whichever
// of the three encodings the producer used for this line:
//
//	(a) a DebitAmount/CreditAmount pair: amount = debit - credit
//	(b) a single Amount plus a debit/credit indicator: signed magnitude
//	(c) a single signed Amount: used as-is, negative meaning credit
//
// The choice is per line, not per document; exports mix styles across
// sections. found is false when the line carries no amount in any encoding.
func (r resolver) lineAmounts(line *Node) (debit, credit, amount decimal.Decimal, found bool) {
	debit, okD := r.Amount(line, "DebitAmount")
	credit, okC := r.Amount(line, "CreditAmount")
	if okD || okC {
		return debit, credit, debit.Sub(credit), true
	}
	amount, okA := r.Amount(line, "Amount")
	if !okA {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}
	if ind, okI := r.First(line, "DebitCreditIndicator"); okI {
		if sign := debitCreditSign(ind); sign != 0 {
			amount = amount.Abs()
			if sign < 0 {
				amount = amount.Neg()
			}
		}
	}
	debit, credit = splitSigned(amount)
	return debit, credit, amount, true
}

// hasAmountText reports whether the line contains any amount-shaped element
// with non-empty text. Used to tell "no amount at all" (a zero line, kept)
// from "an amount that would not parse" (a hard error for the record).
func (r resolver) hasAmountText(line *Node) bool {
	shaped := map[string]bool{}
	for _, field := range []string{"DebitAmount", "CreditAmount", "Amount"} {
		for _, alias := range r.aliases.Lookup(field) {
			shaped[alias] = true
		}
	}
	var has bool
	line.walk(func(n *Node) {
		if shaped[n.Name] && n.text() != "" {
			has = true
		}
	})
	return has
}
