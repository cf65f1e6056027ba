package sqlguard

import "sort"

// Whitelist is the static table/column allow set for the fixed demo schema.
// Loaded once at process start and never mutated by request traffic.
type Whitelist struct {
	tables  map[string]map[string]struct{}
	aliases map[string]string
}

func NewWhitelist(tables map[string][]string, aliases map[string]string) *Whitelist {
	whitelist := &Whitelist{
		tables:  make(map[string]map[string]struct{}, len(tables)),
		aliases: make(map[string]string, len(aliases)),
	}
	for table, columns := range tables {
		set := make(map[string]struct{}, len(columns))
		for _, column := range columns {
			set[column] = struct{}{}
		}
		whitelist.tables[table] = set
	}
	for alias, table := range aliases {
		whitelist.aliases[alias] = table
	}
	return whitelist
}

// Allows reports whether name (already lower-cased) is a known table or a
// registered alias for one.
func (w *Whitelist) Allows(name string) bool {
	if _, ok := w.tables[name]; ok {
		return true
	}
	_, ok := w.aliases[name]
	return ok
}

func (w *Whitelist) AllowsColumn(table, column string) bool {
	if resolved, ok := w.aliases[table]; ok {
		table = resolved
	}
	columns, ok := w.tables[table]
	if !ok {
		return false
	}
	_, ok = columns[column]
	return ok
}

func (w *Whitelist) Tables() []string {
	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DemoWhitelist describes the bundled demo database.
func DemoWhitelist() *Whitelist {
	return NewWhitelist(
		map[string][]string{
			"customers":   {"id", "name", "segment", "country", "city", "state", "postal_code", "region"},
			"products":    {"id", "name", "category", "sub_category"},
			"orders":      {"id", "customer_id", "order_date", "ship_date", "ship_mode", "total"},
			"order_items": {"id", "order_id", "product_id", "quantity", "sales", "discount", "profit"},
		},
		map[string]string{
			"c":  "customers",
			"p":  "products",
			"o":  "orders",
			"oi": "order_items",
		},
	)
}
