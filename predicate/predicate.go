// Package predicate is the engine's answer to spec §9's "expression
// tree predicate parsing is an external collaborator": rather than
// reflecting over a host-language lambda, callers build a tagged tree
// of comparisons directly (or through a thin language-level builder)
// and the engine inspects it to choose between a full scan and an
// index scan.
package predicate

import "github.com/sdbio/sdb/bson"

// Kind tags the role of a Predicate node.
type Kind int

const (
	KindAnd Kind = iota
	KindOr
	KindNot
	KindEq
	KindLt
	KindLe
	KindGt
	KindGe
	KindContains
	KindStartsWith
	KindEndsWith
	KindFieldRef
	KindLiteral
)

// Predicate is one node of the tagged predicate tree. Exactly the
// fields relevant to Kind are populated:
//
//	And/Or:       Children
//	Not:          Operand
//	Eq/Lt/Le/Gt/Ge/Contains/StartsWith/EndsWith: Left, Right
//	FieldRef:     Field
//	Literal:      Value
type Predicate struct {
	Kind     Kind
	Children []*Predicate
	Operand  *Predicate
	Left     *Predicate
	Right    *Predicate
	Field    string
	Value    bson.Value
}

func And(preds ...*Predicate) *Predicate { return &Predicate{Kind: KindAnd, Children: preds} }
func Or(preds ...*Predicate) *Predicate  { return &Predicate{Kind: KindOr, Children: preds} }
func Not(p *Predicate) *Predicate        { return &Predicate{Kind: KindNot, Operand: p} }

func compare(kind Kind, field string, lit bson.Value) *Predicate {
	return &Predicate{Kind: kind, Left: FieldRef(field), Right: Literal(lit)}
}

func Eq(field string, v bson.Value) *Predicate { return compare(KindEq, field, v) }
func Lt(field string, v bson.Value) *Predicate { return compare(KindLt, field, v) }
func Le(field string, v bson.Value) *Predicate { return compare(KindLe, field, v) }
func Gt(field string, v bson.Value) *Predicate { return compare(KindGt, field, v) }
func Ge(field string, v bson.Value) *Predicate { return compare(KindGe, field, v) }

func Contains(field string, substr string) *Predicate {
	return compare(KindContains, field, bson.String(substr))
}
func StartsWith(field string, prefix string) *Predicate {
	return compare(KindStartsWith, field, bson.String(prefix))
}
func EndsWith(field string, suffix string) *Predicate {
	return compare(KindEndsWith, field, bson.String(suffix))
}

func FieldRef(field string) *Predicate { return &Predicate{Kind: KindFieldRef, Field: field} }
func Literal(v bson.Value) *Predicate  { return &Predicate{Kind: KindLiteral, Value: v} }

// Eval reports whether doc satisfies p. A FieldRef that resolves to no
// value (field absent) makes any comparison referencing it false,
// except under Not, which inverts that to true.
func Eval(p *Predicate, doc *bson.Document) bool {
	switch p.Kind {
	case KindAnd:
		for _, c := range p.Children {
			if !Eval(c, doc) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range p.Children {
			if Eval(c, doc) {
				return true
			}
		}
		return false
	case KindNot:
		return !Eval(p.Operand, doc)
	case KindEq, KindLt, KindLe, KindGt, KindGe:
		lv, ok := resolve(p.Left, doc)
		if !ok {
			return false
		}
		rv, ok := resolve(p.Right, doc)
		if !ok {
			return false
		}
		c := bson.Compare(lv, rv)
		switch p.Kind {
		case KindEq:
			return c == 0
		case KindLt:
			return c < 0
		case KindLe:
			return c <= 0
		case KindGt:
			return c > 0
		case KindGe:
			return c >= 0
		}
		return false
	case KindContains, KindStartsWith, KindEndsWith:
		lv, ok := resolve(p.Left, doc)
		if !ok {
			return false
		}
		rv, ok := resolve(p.Right, doc)
		if !ok {
			return false
		}
		s, sok := lv.AsString()
		sub, subok := rv.AsString()
		if !sok || !subok {
			return false
		}
		switch p.Kind {
		case KindContains:
			return containsStr(s, sub)
		case KindStartsWith:
			return hasPrefixStr(s, sub)
		case KindEndsWith:
			return hasSuffixStr(s, sub)
		}
		return false
	default:
		return false
	}
}

func resolve(p *Predicate, doc *bson.Document) (bson.Value, bool) {
	switch p.Kind {
	case KindFieldRef:
		return doc.GetPath(p.Field)
	case KindLiteral:
		return p.Value, true
	default:
		return bson.Value{}, false
	}
}

func containsStr(s, sub string) bool {
	return indexOf(s, sub) >= 0
}

func hasPrefixStr(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func hasSuffixStr(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func indexOf(s, sub string) int {
	if len(sub) == 0 {
		return 0
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
