package vectorstore

import (
	"fmt"
	"sort"
)

// Where is a ChromaDB-style metadata predicate.
//
// Supported shapes:
//
//	{"type": "note"}                                  equality
//	{"type": {"$in": ["note", "insight"]}}            membership
//	{"status": {"$ne": "completed"}}                  inequality
//	{"$and": [clause, clause, ...]}                   conjunction
//	{"$or": [clause, clause, ...]}                    disjunction
//
// Clauses nest arbitrarily. A nil or empty Where matches everything.
type Where map[string]any

// Predicate evaluates a record's metadata against a compiled clause.
type Predicate func(meta map[string]string) bool

// matchAll accepts every record.
func matchAll(map[string]string) bool { return true }

// Compile turns a where clause into a predicate. Field entries combine
// conjunctively, matching Chroma semantics.
func Compile(w Where) (Predicate, error) {
	if len(w) == 0 {
		return matchAll, nil
	}

	preds := make([]Predicate, 0, len(w))

	// Deterministic compile order keeps error messages stable.
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := w[key]
		switch key {
		case "$and":
			clauses, err := subClauses(key, value)
			if err != nil {
				return nil, err
			}
			sub := make([]Predicate, 0, len(clauses))
			for _, c := range clauses {
				p, err := Compile(c)
				if err != nil {
					return nil, err
				}
				sub = append(sub, p)
			}
			preds = append(preds, func(meta map[string]string) bool {
				for _, p := range sub {
					if !p(meta) {
						return false
					}
				}
				return true
			})

		case "$or":
			clauses, err := subClauses(key, value)
			if err != nil {
				return nil, err
			}
			sub := make([]Predicate, 0, len(clauses))
			for _, c := range clauses {
				p, err := Compile(c)
				if err != nil {
					return nil, err
				}
				sub = append(sub, p)
			}
			preds = append(preds, func(meta map[string]string) bool {
				for _, p := range sub {
					if p(meta) {
						return true
					}
				}
				return len(sub) == 0
			})

		default:
			p, err := compileField(key, value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return func(meta map[string]string) bool {
		for _, p := range preds {
			if !p(meta) {
				return false
			}
		}
		return true
	}, nil
}

// compileField compiles a single field constraint.
func compileField(field string, value any) (Predicate, error) {
	switch v := value.(type) {
	case string:
		return func(meta map[string]string) bool {
			got, ok := meta[field]
			return ok && got == v
		}, nil

	case map[string]any:
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: field %q operator map must have exactly one key", ErrInvalidWhere, field)
		}
		for op, operand := range v {
			switch op {
			case "$eq":
				s, ok := operand.(string)
				if !ok {
					return nil, fmt.Errorf("%w: field %q $eq wants a string", ErrInvalidWhere, field)
				}
				return compileField(field, s)
			case "$ne":
				s, ok := operand.(string)
				if !ok {
					return nil, fmt.Errorf("%w: field %q $ne wants a string", ErrInvalidWhere, field)
				}
				return func(meta map[string]string) bool {
					got, ok := meta[field]
					return !ok || got != s
				}, nil
			case "$in":
				values, err := stringSlice(operand)
				if err != nil {
					return nil, fmt.Errorf("%w: field %q $in: %v", ErrInvalidWhere, field, err)
				}
				set := make(map[string]struct{}, len(values))
				for _, s := range values {
					set[s] = struct{}{}
				}
				return func(meta map[string]string) bool {
					got, ok := meta[field]
					if !ok {
						return false
					}
					_, hit := set[got]
					return hit
				}, nil
			default:
				return nil, fmt.Errorf("%w: unsupported operator %q on field %q", ErrInvalidWhere, op, field)
			}
		}
		return nil, fmt.Errorf("%w: empty operator map on field %q", ErrInvalidWhere, field)

	default:
		return nil, fmt.Errorf("%w: field %q has unsupported value type %T", ErrInvalidWhere, field, value)
	}
}

// subClauses normalizes the operand of $and/$or into []Where.
func subClauses(op string, value any) ([]Where, error) {
	switch v := value.(type) {
	case []Where:
		return v, nil
	case []map[string]any:
		out := make([]Where, len(v))
		for i, m := range v {
			out[i] = Where(m)
		}
		return out, nil
	case []any:
		out := make([]Where, 0, len(v))
		for _, item := range v {
			switch c := item.(type) {
			case Where:
				out = append(out, c)
			case map[string]any:
				out = append(out, Where(c))
			default:
				return nil, fmt.Errorf("%w: %s element must be a clause, got %T", ErrInvalidWhere, op, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s wants a list of clauses, got %T", ErrInvalidWhere, op, value)
	}
}

// stringSlice normalizes $in operands.
func stringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element must be a string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("wants a string list, got %T", value)
	}
}

// NativeEqualities extracts the conjunctive equality constraints of a
// clause as a flat map, the only filter shape chromem understands
// natively. full reports whether the extracted map expresses the whole
// clause; when false the caller must over-fetch and post-filter with
// the compiled predicate.
func NativeEqualities(w Where) (eq map[string]string, full bool) {
	eq = make(map[string]string)
	full = collectEqualities(w, eq)
	return eq, full
}

func collectEqualities(w Where, eq map[string]string) bool {
	full := true
	for key, value := range w {
		switch key {
		case "$and":
			clauses, err := subClauses(key, value)
			if err != nil {
				return false
			}
			for _, c := range clauses {
				if !collectEqualities(c, eq) {
					full = false
				}
			}
		case "$or":
			// Disjunctions cannot pre-filter.
			full = false
		default:
			if s, ok := value.(string); ok {
				eq[key] = s
			} else {
				full = false
			}
		}
	}
	return full
}
