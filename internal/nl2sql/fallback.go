package nl2sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var topNPattern = regexp.MustCompile(`top (\d+)`)

// FallbackGenerator produces SELECT queries from a handful of keyword
// heuristics. It serves as the generator of last resort when no model is
// configured or the configured one is unreachable.
type FallbackGenerator struct{}

func NewFallbackGenerator() *FallbackGenerator {
	return &FallbackGenerator{}
}

func (g *FallbackGenerator) Generate(_ context.Context, req Request) (Result, error) {
	question := strings.ToLower(strings.TrimSpace(req.Question))
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}

	table := pickTable(question, req.Tables)
	if table == "" {
		return Result{}, fmt.Errorf("no tables available")
	}
	schema := strings.ToLower(req.Schema)

	var sql string
	switch {
	case containsAny(question, "how many", "count of", "count", "number of"):
		sql = fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", table)
	case containsAny(question, "sum", "total", "revenue", "sales"):
		if column := pickColumn(schema, "total", "sales", "amount", "revenue"); column != "" {
			sql = fmt.Sprintf("SELECT SUM(%s) AS total FROM %s", column, table)
		} else {
			sql = fmt.Sprintf("SELECT COUNT(*) AS total FROM %s", table)
		}
	case containsAny(question, "average", "avg", "mean"):
		if column := pickColumn(schema, "total", "sales", "amount", "profit"); column != "" {
			sql = fmt.Sprintf("SELECT AVG(%s) AS average FROM %s", column, table)
		} else {
			sql = fmt.Sprintf("SELECT COUNT(*) AS average FROM %s", table)
		}
	case topNPattern.MatchString(question):
		n := topNPattern.FindStringSubmatch(question)[1]
		if column := pickColumn(schema, "profit", "total", "sales", "quantity"); column != "" {
			sql = fmt.Sprintf("SELECT * FROM %s ORDER BY %s DESC LIMIT %s", table, column, n)
		} else {
			sql = fmt.Sprintf("SELECT * FROM %s LIMIT %s", table, n)
		}
	default:
		sql = fmt.Sprintf("SELECT * FROM %s LIMIT 100", table)
	}

	return Result{SQL: sql, Provider: "fallback", Model: "heuristic"}, nil
}

// pickTable prefers a table the question mentions, tolerating a trailing
// plural "s" in either direction, and falls back to the first table.
func pickTable(question string, tables []string) string {
	for _, table := range tables {
		lower := strings.ToLower(table)
		if strings.Contains(question, lower) ||
			strings.Contains(question, lower+"s") ||
			(strings.HasSuffix(lower, "s") && strings.Contains(question, strings.TrimSuffix(lower, "s"))) {
			return table
		}
	}
	if len(tables) > 0 {
		return tables[0]
	}
	return ""
}

func pickColumn(schema string, candidates ...string) string {
	for _, candidate := range candidates {
		if strings.Contains(schema, candidate) {
			return candidate
		}
	}
	return ""
}

func containsAny(value string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
