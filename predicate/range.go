package predicate

import "github.com/sdbio/sdb/bson"

// Range is an inspected single-field bound extracted from a predicate
// tree, usable as a B-tree scan_range argument (spec §4.8: "may be
// upgraded to index scan when the predicate parser exposes an
// indexable key range").
type Range struct {
	Low, High           *bson.Value
	LowIncl, HighIncl   bool
}

// ExtractRange inspects p for comparisons of field against a literal,
// looking through And nodes only. Any other term (an Or or Not node, a
// string match, a comparison on another field) is ignored, so the
// range can be wider than p and callers still filter with Eval.
// ok is false when no usable bound was found.
func ExtractRange(p *Predicate, field string) (r Range, ok bool) {
	terms := flattenAnd(p)
	found := false
	for _, t := range terms {
		lo, hi, loi, hii, matched := boundFromComparison(t, field)
		if !matched {
			continue
		}
		found = true
		if lo != nil {
			if r.Low == nil || bson.Compare(*lo, *r.Low) > 0 {
				r.Low = lo
				r.LowIncl = loi
			}
		}
		if hi != nil {
			if r.High == nil || bson.Compare(*hi, *r.High) < 0 {
				r.High = hi
				r.HighIncl = hii
			}
		}
	}
	return r, found
}

func flattenAnd(p *Predicate) []*Predicate {
	if p.Kind == KindAnd {
		var out []*Predicate
		for _, c := range p.Children {
			out = append(out, flattenAnd(c)...)
		}
		return out
	}
	return []*Predicate{p}
}

func boundFromComparison(p *Predicate, field string) (low, high *bson.Value, lowIncl, highIncl bool, ok bool) {
	if p.Left == nil || p.Right == nil || p.Left.Kind != KindFieldRef || p.Left.Field != field || p.Right.Kind != KindLiteral {
		return nil, nil, false, false, false
	}
	v := p.Right.Value
	switch p.Kind {
	case KindEq:
		return &v, &v, true, true, true
	case KindGe:
		return &v, nil, true, false, true
	case KindGt:
		return &v, nil, false, false, true
	case KindLe:
		return nil, &v, false, true, true
	case KindLt:
		return nil, &v, false, false, true
	default:
		return nil, nil, false, false, false
	}
}
