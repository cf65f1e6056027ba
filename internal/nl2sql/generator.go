// Package nl2sql turns natural language questions into SQL text. Generated
// SQL is untrusted output and always goes through validation before it
// touches a database.
package nl2sql

import "context"

type Request struct {
	Question string
	Schema   string
	Tables   []string
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
