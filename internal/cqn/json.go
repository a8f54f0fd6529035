package cqn

// ToJSON converts a query node into its CQN JSON shape built from
// map[string]any, []any and scalar values.
//
// Accepted nodes: *Select, Source, Expr, []Expr, Column, []Column, Step,
// OrderItem, *Limit. Anything else is returned unchanged.
func ToJSON(node any) any {
	switch n := node.(type) {
	case nil:
		return nil
	case *Select:
		return map[string]any{"SELECT": selectJSON(n)}
	case Source:
		return sourceJSON(n)
	case Expr:
		return exprJSON(n)
	case []Expr:
		return tokensJSON(n)
	case Column:
		return columnJSON(n)
	case []Column:
		return columnsJSON(n)
	case Step:
		return stepJSON(n)
	case OrderItem:
		return orderItemJSON(n)
	case *Limit:
		return limitJSON(n)
	default:
		return node
	}
}

func selectJSON(s *Select) map[string]any {
	body := map[string]any{}
	if s.From != nil {
		body["from"] = sourceJSON(s.From)
	}
	if len(s.Columns) > 0 {
		body["columns"] = columnsJSON(s.Columns)
	}
	if len(s.Where) > 0 {
		body["where"] = tokensJSON(s.Where)
	}
	if len(s.GroupBy) > 0 {
		body["groupBy"] = tokensJSON(s.GroupBy)
	}
	if len(s.Having) > 0 {
		body["having"] = tokensJSON(s.Having)
	}
	if len(s.OrderBy) > 0 {
		body["orderBy"] = orderByJSON(s.OrderBy)
	}
	if s.Limit != nil {
		body["limit"] = limitJSON(s.Limit)
	}
	if s.Distinct {
		body["distinct"] = true
	}
	if s.One {
		body["one"] = true
	}
	if s.Expand {
		body["expand"] = true
	}
	return body
}

func sourceJSON(src Source) any {
	switch s := src.(type) {
	case *TableRef:
		m := map[string]any{"ref": stepsJSON(s.Ref.Steps)}
		if s.As != "" {
			m["as"] = s.As
		}
		return m
	case *Join:
		m := map[string]any{
			"join": s.Kind,
			"args": []any{sourceJSON(s.Left), sourceJSON(s.Right)},
		}
		if len(s.On) > 0 {
			m["on"] = tokensJSON(s.On)
		}
		return m
	case *SubSelect:
		m := map[string]any{"SELECT": selectJSON(s.Select)}
		if s.As != "" {
			m["as"] = s.As
		}
		return m
	default:
		return nil
	}
}

func exprJSON(e Expr) any {
	switch x := e.(type) {
	case Op:
		return string(x)
	case *Ref:
		return map[string]any{"ref": stepsJSON(x.Steps)}
	case *Val:
		return map[string]any{"val": x.Value}
	case *Param:
		return map[string]any{"param": x.Name}
	case *Func:
		return map[string]any{"func": x.Name, "args": tokensJSON(x.Args)}
	case *Xpr:
		return map[string]any{"xpr": tokensJSON(x.Tokens)}
	case *List:
		return map[string]any{"list": tokensJSON(x.Items)}
	case *SubQuery:
		return map[string]any{"SELECT": selectJSON(x.Select)}
	default:
		return nil
	}
}

func tokensJSON(tokens []Expr) []any {
	out := make([]any, len(tokens))
	for i, t := range tokens {
		out[i] = exprJSON(t)
	}
	return out
}

func stepsJSON(steps []Step) []any {
	out := make([]any, len(steps))
	for i, s := range steps {
		out[i] = stepJSON(s)
	}
	return out
}

func stepJSON(s Step) any {
	if !s.HasModifiers() {
		return s.ID
	}
	m := map[string]any{"id": s.ID}
	if len(s.Where) > 0 {
		m["where"] = tokensJSON(s.Where)
	}
	if len(s.OrderBy) > 0 {
		m["orderBy"] = orderByJSON(s.OrderBy)
	}
	if s.Limit != nil {
		m["limit"] = limitJSON(s.Limit)
	}
	return m
}

func columnsJSON(cols []Column) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = columnJSON(c)
	}
	return out
}

func columnJSON(c Column) any {
	if c.Wildcard {
		return "*"
	}
	m := map[string]any{}
	if c.Expr != nil {
		if em, ok := exprJSON(c.Expr).(map[string]any); ok {
			for k, v := range em {
				m[k] = v
			}
		}
	}
	if c.As != "" {
		m["as"] = c.As
	}
	if c.Expand != nil {
		m["expand"] = columnsJSON(c.Expand)
	}
	if c.Inline != nil {
		m["inline"] = columnsJSON(c.Inline)
	}
	if len(c.OrderBy) > 0 {
		m["orderBy"] = orderByJSON(c.OrderBy)
	}
	if c.Limit != nil {
		m["limit"] = limitJSON(c.Limit)
	}
	return m
}

func orderByJSON(items []OrderItem) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = orderItemJSON(item)
	}
	return out
}

func orderItemJSON(item OrderItem) any {
	m := map[string]any{}
	if em, ok := exprJSON(item.Expr).(map[string]any); ok {
		for k, v := range em {
			m[k] = v
		}
	}
	if item.Sort != "" {
		m["sort"] = item.Sort
	}
	if item.Nulls != "" {
		m["nulls"] = item.Nulls
	}
	return m
}

func limitJSON(l *Limit) any {
	m := map[string]any{}
	if l.Rows != nil {
		m["rows"] = exprJSON(l.Rows)
	}
	if l.Offset != nil {
		m["offset"] = exprJSON(l.Offset)
	}
	return m
}
