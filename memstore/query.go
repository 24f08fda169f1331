package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/jacentio/docferry/internal/querylang"
	"github.com/jacentio/docferry/internal/shard"
	"github.com/jacentio/docferry/store"
)

// Query evaluates q against a snapshot of coll and pages the matches by
// opts.MaxItemCount.
func (s *Store) Query(_ context.Context, coll *store.Collection, q store.QuerySpec, opts store.FeedOptions) (store.Feed, error) {
	st, err := querylang.Parse(q.Text)
	if err != nil {
		return nil, errors.Wrap(store.ErrInvalidQuery, err.Error())
	}
	params := make(map[string]interface{}, len(q.Parameters))
	for _, p := range q.Parameters {
		v, err := normalize(p.Value)
		if err != nil {
			return nil, errors.Wrapf(store.ErrInvalidQuery, "parameter %s: %v", p.Name, err)
		}
		params[p.Name] = v
	}
	for _, name := range querylang.Params(st.Where) {
		if _, ok := params[name]; !ok {
			return nil, errors.Wrapf(store.ErrInvalidQuery, "parameter %s is not bound", name)
		}
	}

	var prg cel.Program
	if st.Where != nil {
		prg, err = s.program(st.Where)
		if err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.collection(coll)
	if err != nil {
		return nil, err
	}

	pinned := ""
	if len(c.meta.PartitionKeys) > 0 {
		if values, ok := querylang.Pinned(st.Where, c.meta.PartitionKeys, params); ok {
			pinned = shard.PartitionKey(values)
		} else if !opts.EnableCrossPartitionQuery {
			return nil, errors.Wrapf(store.ErrCrossPartitionDisabled, "query on %s", coll.SelfLink)
		}
	}

	vars := make(map[string]interface{}, len(params)+1)
	for name, v := range params {
		vars[paramVar(name)] = v
	}
	var matches []*entry
	for _, key := range c.order {
		e := c.docs[key]
		if pinned != "" && e.pk != pinned {
			continue
		}
		if prg != nil {
			vars["c"] = e.body
			out, _, err := prg.Eval(vars)
			if err != nil {
				// Type mismatches and missing fields don't match.
				continue
			}
			if ok, _ := out.Value().(bool); !ok {
				continue
			}
		}
		matches = append(matches, e)
	}

	if st.OrderBy != nil {
		field, desc := st.OrderBy.Field, st.OrderBy.Desc
		sort.SliceStable(matches, func(i, j int) bool {
			a, b := matches[i].body[field], matches[j].body[field]
			if desc {
				return less(b, a)
			}
			return less(a, b)
		})
	}

	size := opts.MaxItemCount
	if size <= 0 {
		size = store.DefaultBatchSize
	}
	if st.Count {
		return newFeed(countPartials(matches), size, s.opts.ReadUnits), nil
	}
	docs := make([]store.Raw, 0, len(matches))
	for _, e := range matches {
		raw, err := encode(e.body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, raw)
	}
	return newFeed(docs, size, s.opts.ReadUnits), nil
}

// countPartials returns one partial count per partition, the way a
// cross-partition aggregate arrives.
func countPartials(matches []*entry) []store.Raw {
	counts := map[string]int{}
	var order []string
	for _, e := range matches {
		if _, ok := counts[e.pk]; !ok {
			order = append(order, e.pk)
		}
		counts[e.pk]++
	}
	if len(order) == 0 {
		return []store.Raw{store.RawJSON("0")}
	}
	out := make([]store.Raw, 0, len(order))
	for _, pk := range order {
		out = append(out, store.RawJSON(strconv.Itoa(counts[pk])))
	}
	return out
}

func (s *Store) program(where querylang.Expr) (cel.Program, error) {
	src, names := compile(where)
	s.mu.RLock()
	prg, ok := s.programs[src]
	s.mu.RUnlock()
	if ok {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, cel.Variable(paramVar(name), cel.DynType))
	}
	env, err := s.env.Extend(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "extend CEL environment")
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(store.ErrInvalidQuery, "compile %q: %v", src, issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "program %q", src)
	}

	s.mu.Lock()
	s.programs[src] = prg
	s.mu.Unlock()
	return prg, nil
}

// compile renders a filter as a CEL expression over the document map c.
// Each comparison is guarded by presence checks on the fields it reads.
func compile(e querylang.Expr) (string, []string) {
	names := querylang.Params(e)
	var sb strings.Builder
	var emit func(querylang.Expr)
	emit = func(e querylang.Expr) {
		switch n := e.(type) {
		case querylang.Logical:
			op := "&&"
			if n.Op == "OR" {
				op = "||"
			}
			sb.WriteString("(")
			emit(n.Left)
			sb.WriteString(" " + op + " ")
			emit(n.Right)
			sb.WriteString(")")
		case querylang.Not:
			sb.WriteString("!(")
			emit(n.X)
			sb.WriteString(")")
		case querylang.Comparison:
			sb.WriteString("(")
			for _, o := range []querylang.Operand{n.Left, n.Right} {
				if o.Kind == querylang.FieldRef {
					fmt.Fprintf(&sb, "%s in c && ", strconv.Quote(o.Name))
				}
			}
			op := n.Op
			if op == "=" {
				op = "=="
			}
			fmt.Fprintf(&sb, "%s %s %s)", operand(n.Left), op, operand(n.Right))
		}
	}
	emit(e)
	return sb.String(), names
}

func operand(o querylang.Operand) string {
	switch o.Kind {
	case querylang.FieldRef:
		return "c[" + strconv.Quote(o.Name) + "]"
	case querylang.ParamRef:
		return paramVar(o.Name)
	}
	switch v := o.Value.(type) {
	case string:
		return strconv.Quote(v)
	case float64:
		f := strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.Contains(f, ".") {
			f += ".0"
		}
		return f
	case bool:
		return strconv.FormatBool(v)
	}
	return "null"
}

func paramVar(name string) string { return "p_" + strings.TrimPrefix(name, "@") }

func less(a, b interface{}) bool {
	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			return x < y
		}
	case string:
		if y, ok := b.(string); ok {
			return x < y
		}
	case bool:
		if y, ok := b.(bool); ok {
			return !x && y
		}
	}
	// Missing values sort first.
	return a == nil && b != nil
}

type feed struct {
	docs  []store.Raw
	size  int
	units float64
	pos   int
	done  bool
}

func newFeed(docs []store.Raw, size int, units float64) *feed {
	return &feed{docs: docs, size: size, units: units}
}

func (f *feed) HasMoreResults() bool { return !f.done }

func (f *feed) Next(ctx context.Context) (*store.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.done {
		return &store.Page{}, nil
	}
	end := f.pos + f.size
	if end >= len(f.docs) {
		end = len(f.docs)
		f.done = true
	}
	page := &store.Page{Documents: f.docs[f.pos:end], ThroughputUnits: f.units}
	f.pos = end
	if !f.done {
		page.ContinuationToken = strconv.Itoa(f.pos)
	}
	return page, nil
}
