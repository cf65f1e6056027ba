// Package analysis runs the question-to-result pipeline: session lookup,
// cache, throttle, SQL generation, validation and sandboxed execution.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datapulse/datapulse/internal/nl2sql"
	"github.com/datapulse/datapulse/internal/observability"
	"github.com/datapulse/datapulse/internal/query"
	"github.com/datapulse/datapulse/internal/session"
	"github.com/datapulse/datapulse/internal/sqlcache"
	"github.com/datapulse/datapulse/internal/sqlguard"
	"github.com/datapulse/datapulse/internal/throttle"
)

const (
	CodeInvalidSessionID      = "InvalidSessionID"
	CodeSessionNotFound       = "SessionNotFound"
	CodeEmptyQuestion         = "EmptyQuestion"
	CodeThrottleExceeded      = "ThrottleExceeded"
	CodeGenerationUnavailable = "GenerationUnavailable"
	CodeValidationRejected    = "ValidationRejected"
	CodeExecutionFailed       = "ExecutionFailed"
)

// Error is a pipeline failure with a machine-readable code. Reason carries
// the validator verdict for ValidationRejected, RetryAfter the wait hint
// for ThrottleExceeded.
type Error struct {
	Code       string
	Message    string
	Reason     string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Response struct {
	SQL       string
	Columns   []string
	Rows      [][]any
	RowCount  int
	Truncated bool
	FromCache bool
	Provider  string
	Model     string
	Duration  time.Duration
}

type Service struct {
	registry  *session.Registry
	cache     *sqlcache.Cache
	throttle  *throttle.Throttle
	generator nl2sql.Generator
	fallback  nl2sql.Generator
	demo      *sqlguard.Validator
	custom    *sqlguard.Validator
	engine    query.Engine
	maxRows   int
	logger    *slog.Logger
}

type Config struct {
	Registry *session.Registry
	Cache    *sqlcache.Cache
	Throttle *throttle.Throttle
	// Generator may be nil when no model is configured; the fallback then
	// serves every request.
	Generator nl2sql.Generator
	Fallback  nl2sql.Generator
	Demo      *sqlguard.Validator
	Custom    *sqlguard.Validator
	Engine    query.Engine
	MaxRows   int
	Logger    *slog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil || cfg.Cache == nil || cfg.Throttle == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("registry, cache, throttle and engine are required")
	}
	if cfg.Fallback == nil || cfg.Demo == nil || cfg.Custom == nil {
		return nil, fmt.Errorf("fallback generator and both validators are required")
	}
	if cfg.MaxRows <= 0 {
		return nil, fmt.Errorf("max rows must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		registry:  cfg.Registry,
		cache:     cfg.Cache,
		throttle:  cfg.Throttle,
		generator: cfg.Generator,
		fallback:  cfg.Fallback,
		demo:      cfg.Demo,
		custom:    cfg.Custom,
		engine:    cfg.Engine,
		maxRows:   cfg.MaxRows,
		logger:    logger,
	}, nil
}

// Analyze answers a natural language question against a session's database.
// A cache hit skips the throttle and the generator entirely; everything
// else pays one throttle slot per generation.
func (s *Service) Analyze(ctx context.Context, sessionID, question string) (Response, error) {
	if !session.ValidID(sessionID) {
		return Response{}, &Error{Code: CodeInvalidSessionID, Message: "session id is not a valid UUID"}
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, &Error{Code: CodeEmptyQuestion, Message: "question is required"}
	}

	current, ok := s.registry.Get(sessionID)
	if !ok {
		return Response{}, &Error{Code: CodeSessionNotFound, Message: "session not found or expired"}
	}

	sqlText, fromCache := s.cache.Get(question, current.Schema)
	observability.ObserveCacheLookup(fromCache)

	result := nl2sql.Result{SQL: sqlText, Provider: "cache"}
	if !fromCache {
		if !s.throttle.Admit() {
			wait := s.throttle.TimeToWait()
			observability.IncrementThrottleRejection()
			return Response{}, &Error{
				Code:       CodeThrottleExceeded,
				Message:    fmt.Sprintf("too many requests, retry in %d seconds", int(wait.Seconds())+1),
				RetryAfter: wait,
			}
		}
		var err error
		result, err = s.generate(ctx, nl2sql.Request{
			Question: question,
			Schema:   current.Schema,
			Tables:   current.Tables,
		})
		if err != nil {
			return Response{}, err
		}
	}

	validator := s.custom
	if current.Kind == session.KindDemo {
		validator = s.demo
	}
	verdict := validator.Check(result.SQL)
	if !verdict.Safe {
		observability.IncrementValidationRejection(string(verdict.Reason))
		s.logger.Warn("generated SQL rejected",
			slog.String("reason", verdict.Code()),
			slog.String("sql", observability.TruncateForLog(result.SQL, 120)),
		)
		return Response{}, &Error{
			Code:    CodeValidationRejected,
			Message: verdict.Message,
			Reason:  verdict.Code(),
		}
	}

	executed, err := s.engine.Execute(ctx, query.Request{
		DBPath:   current.DBPath,
		SQL:      result.SQL,
		RowLimit: s.maxRows,
	})
	if err != nil {
		return Response{}, &Error{Code: CodeExecutionFailed, Message: err.Error()}
	}

	if !fromCache {
		s.cache.Put(question, current.Schema, result.SQL)
	}

	s.logger.Info("analysis completed",
		slog.String("session", sessionID[:8]),
		slog.String("question", observability.TruncateForLog(question, 80)),
		slog.Bool("from_cache", fromCache),
		slog.Int("rows", len(executed.Rows)),
		slog.Duration("duration", executed.Duration),
	)

	return Response{
		SQL:       result.SQL,
		Columns:   executed.Columns,
		Rows:      executed.Rows,
		RowCount:  len(executed.Rows),
		Truncated: executed.Truncated,
		FromCache: fromCache,
		Provider:  result.Provider,
		Model:     result.Model,
		Duration:  executed.Duration,
	}, nil
}

// generate asks the configured model first and falls back to the heuristic
// generator when the model is missing, fails, or returns an error sentinel.
func (s *Service) generate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	if s.generator != nil {
		result, err := s.generator.Generate(ctx, req)
		if err == nil && !strings.HasPrefix(strings.TrimSpace(result.SQL), "Error:") {
			return result, nil
		}
		if err != nil {
			s.logger.Warn("model generation failed, using fallback", slog.String("error", err.Error()))
		} else {
			s.logger.Warn("model returned error sentinel, using fallback",
				slog.String("sql", observability.TruncateForLog(result.SQL, 120)))
		}
	}

	result, err := s.fallback.Generate(ctx, req)
	if err != nil {
		return nl2sql.Result{}, &Error{Code: CodeGenerationUnavailable, Message: err.Error()}
	}
	return result, nil
}

func (s *Service) CacheStats() sqlcache.Stats {
	return s.cache.Stats()
}

func (s *Service) ClearCache() {
	s.cache.Clear()
}
