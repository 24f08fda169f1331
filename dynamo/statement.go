package dynamo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"github.com/jacentio/docferry/internal/querylang"
	"github.com/jacentio/docferry/internal/shard"
	"github.com/jacentio/docferry/store"
)

// plan is a query spec resolved against one table.
type plan struct {
	stmt   *querylang.Statement
	table  string
	params map[string]interface{}

	// partition is the single partition the query is bound to, empty for a
	// cross-partition query.
	partition string
}

func newPlan(coll *store.Collection, q store.QuerySpec, opts store.FeedOptions) (*plan, error) {
	st, err := querylang.Parse(q.Text)
	if err != nil {
		return nil, errors.Wrap(store.ErrInvalidQuery, err.Error())
	}
	params := make(map[string]interface{}, len(q.Parameters))
	for _, p := range q.Parameters {
		params[p.Name] = p.Value
	}
	for _, name := range querylang.Params(st.Where) {
		if _, ok := params[name]; !ok {
			return nil, errors.Wrapf(store.ErrInvalidQuery, "parameter %s is not bound", name)
		}
	}

	p := &plan{stmt: st, table: TableName(coll.Database, coll.Name), params: params}
	if len(coll.PartitionKeys) == 0 {
		p.partition = shard.Unpartitioned
	} else if values, ok := querylang.Pinned(st.Where, coll.PartitionKeys, params); ok {
		p.partition = shard.PartitionKey(values)
	} else if !opts.EnableCrossPartitionQuery {
		return nil, errors.Wrapf(store.ErrCrossPartitionDisabled, "query on %s", p.table)
	}

	if o := st.OrderBy; o != nil && (o.Field != attrID || p.partition == "") {
		return nil, errors.Wrapf(store.ErrInvalidQuery, "ORDER BY c.%s: only c.id within one partition is supported", o.Field)
	}
	return p, nil
}

// partiQL renders a document query as a PartiQL statement with positional
// parameters.
func (p *plan) partiQL() (string, []types.AttributeValue, error) {
	var sb strings.Builder
	var args []types.AttributeValue
	fmt.Fprintf(&sb, "SELECT * FROM %q", p.table)

	var conds []string
	if p.partition != "" {
		conds = append(conds, fmt.Sprintf("%q = ?", attrPK))
		args = append(args, &types.AttributeValueMemberS{Value: p.partition})
	}
	if p.stmt.Where != nil {
		where, whereArgs, err := p.emit(p.stmt.Where, partiQLDialect{})
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, where)
		args = append(args, whereArgs...)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	if o := p.stmt.OrderBy; o != nil {
		fmt.Fprintf(&sb, " ORDER BY %q", o.Field)
		if o.Desc {
			sb.WriteString(" DESC")
		} else {
			sb.WriteString(" ASC")
		}
	}
	return sb.String(), args, nil
}

// condition renders the filter as a condition expression with name and value
// placeholders, used by COUNT queries.
func (p *plan) condition() (string, map[string]string, map[string]types.AttributeValue, error) {
	if p.stmt.Where == nil {
		return "", nil, nil, nil
	}
	d := &conditionDialect{names: map[string]string{}, values: map[string]types.AttributeValue{}}
	expr, _, err := p.emit(p.stmt.Where, d)
	if err != nil {
		return "", nil, nil, err
	}
	return expr, d.names, d.values, nil
}

type dialect interface {
	field(name string) string
	value(v types.AttributeValue) (string, []types.AttributeValue)
	op(op string) string
}

func (p *plan) emit(e querylang.Expr, d dialect) (string, []types.AttributeValue, error) {
	switch n := e.(type) {
	case querylang.Logical:
		l, la, err := p.emit(n.Left, d)
		if err != nil {
			return "", nil, err
		}
		r, ra, err := p.emit(n.Right, d)
		if err != nil {
			return "", nil, err
		}
		return "(" + l + " " + n.Op + " " + r + ")", append(la, ra...), nil
	case querylang.Not:
		x, xa, err := p.emit(n.X, d)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + x + ")", xa, nil
	case querylang.Comparison:
		l, la, err := p.operand(n.Left, d)
		if err != nil {
			return "", nil, err
		}
		r, ra, err := p.operand(n.Right, d)
		if err != nil {
			return "", nil, err
		}
		return l + " " + d.op(n.Op) + " " + r, append(la, ra...), nil
	}
	return "", nil, errors.Wrapf(store.ErrInvalidQuery, "unsupported expression %T", e)
}

func (p *plan) operand(o querylang.Operand, d dialect) (string, []types.AttributeValue, error) {
	var v interface{}
	switch o.Kind {
	case querylang.FieldRef:
		return d.field(o.Name), nil, nil
	case querylang.ParamRef:
		v = p.params[o.Name]
	default:
		v = o.Value
	}
	av, err := marshalValue(v)
	if err != nil {
		return "", nil, errors.Wrapf(store.ErrInvalidQuery, "operand %v: %v", v, err)
	}
	s, args := d.value(av)
	return s, args, nil
}

type partiQLDialect struct{}

func (partiQLDialect) field(name string) string { return strconv.Quote(name) }

func (partiQLDialect) value(v types.AttributeValue) (string, []types.AttributeValue) {
	return "?", []types.AttributeValue{v}
}

func (partiQLDialect) op(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}

type conditionDialect struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (d *conditionDialect) field(name string) string {
	for k, v := range d.names {
		if v == name {
			return k
		}
	}
	k := fmt.Sprintf("#f%d", len(d.names))
	d.names[k] = name
	return k
}

func (d *conditionDialect) value(v types.AttributeValue) (string, []types.AttributeValue) {
	k := fmt.Sprintf(":v%d", len(d.values))
	d.values[k] = v
	return k, nil
}

func (d *conditionDialect) op(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}
