// Package sqlguard is the last line of defense between SQL text produced by
// an untrusted generator and a real database. It classifies a SQL string as
// safe or unsafe using string scanning, not a full SQL parser; the row cap in
// the executor and the per-session sandbox provide the remaining depth.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

type Mode string

const (
	// ModeWhitelist adds table-name enforcement against a fixed schema.
	ModeWhitelist Mode = "whitelist"
	// ModePattern relies on denylisted syntax patterns only; used when the
	// schema is user-uploaded and no fixed table set exists.
	ModePattern Mode = "pattern"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonEmptyInput       Reason = "EmptyInput"
	ReasonNotSelect        Reason = "NotSelect"
	ReasonCommentDetected  Reason = "CommentDetected"
	ReasonMultiStatement   Reason = "MultiStatement"
	ReasonUnionDetected    Reason = "UnionDetected"
	ReasonForbiddenKeyword Reason = "ForbiddenKeyword"
	ReasonTableNotAllowed  Reason = "TableNotAllowed"
	ReasonEncodedLiteral   Reason = "EncodedLiteral"
	ReasonTimingFunction   Reason = "TimingFunction"
)

type Verdict struct {
	Safe    bool
	Reason  Reason
	Keyword string
	Message string
}

// Code renders the machine-readable reason, with the offending keyword
// attached for ForbiddenKeyword verdicts.
func (v Verdict) Code() string {
	if v.Reason == ReasonForbiddenKeyword && v.Keyword != "" {
		return fmt.Sprintf("%s:%s", v.Reason, v.Keyword)
	}
	return string(v.Reason)
}

var commonDenylist = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER",
	"CREATE", "TRUNCATE", "EXEC", "EXECUTE",
	"GRANT", "REVOKE", "COMMIT", "ROLLBACK", "SAVEPOINT",
	"ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX",
}

var patternDenylist = []string{
	"LOAD_FILE", "INTO OUTFILE", "INTO DUMPFILE", "COPY",
}

// Stored-procedure and vendor-package prefixes rejected in pattern mode.
// These match as prefixes of a longer identifier (XP_CMDSHELL, DBMS_SQL).
var procPrefixes = []string{"XP_", "SP_", "UTL_", "DBMS_"}

var (
	commonKeywordPatterns  = compileKeywordPatterns(commonDenylist)
	patternKeywordPatterns = compileKeywordPatterns(patternDenylist)
	procPrefixPattern      = regexp.MustCompile(`(?:^|[^A-Za-z0-9_])(?:XP|SP|UTL|DBMS)_[A-Za-z0-9_]*`)
	unionPattern           = regexp.MustCompile(`(?:^|[^A-Za-z0-9_])UNION(?:$|[^A-Za-z0-9_])`)
	tableRefPattern        = regexp.MustCompile(`(?i)(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// compileKeywordPatterns builds whole-word matchers where underscore counts
// as an identifier character, so my_create_log never matches CREATE.
func compileKeywordPatterns(keywords []string) map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(keywords))
	for _, keyword := range keywords {
		escaped := regexp.QuoteMeta(keyword)
		escaped = strings.ReplaceAll(escaped, ` `, `\s+`)
		patterns[keyword] = regexp.MustCompile(`(?:^|[^A-Za-z0-9_])` + escaped + `(?:$|[^A-Za-z0-9_])`)
	}
	return patterns
}

type Validator struct {
	mode      Mode
	whitelist *Whitelist
}

func NewWhitelistValidator(whitelist *Whitelist) *Validator {
	return &Validator{mode: ModeWhitelist, whitelist: whitelist}
}

func NewPatternValidator() *Validator {
	return &Validator{mode: ModePattern}
}

func (v *Validator) Mode() Mode {
	return v.mode
}

// Check classifies a SQL string. It is a pure function over the input and the
// validator's static configuration; the earliest failing check wins.
func (v *Validator) Check(sqlText string) Verdict {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return unsafe(ReasonEmptyInput, "", "empty SQL query")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return unsafe(ReasonNotSelect, "", "only SELECT queries are allowed")
	}

	if strings.Contains(trimmed, "--") || strings.Contains(trimmed, "/*") {
		return unsafe(ReasonCommentDetected, "", "SQL comments are not allowed")
	}

	switch semicolons := strings.Count(trimmed, ";"); {
	case semicolons > 1:
		return unsafe(ReasonMultiStatement, "", "multiple statements are not allowed")
	case semicolons == 1 && !strings.HasSuffix(trimmed, ";"):
		return unsafe(ReasonMultiStatement, "", "statement terminator only allowed at end of query")
	}

	if unionPattern.MatchString(upper) {
		return unsafe(ReasonUnionDetected, "", "UNION is not allowed")
	}

	for _, keyword := range commonDenylist {
		if commonKeywordPatterns[keyword].MatchString(upper) {
			return unsafe(ReasonForbiddenKeyword, keyword, fmt.Sprintf("operation %s is not allowed", keyword))
		}
	}

	if v.mode == ModePattern {
		return v.checkPatterns(upper)
	}
	return v.checkWhitelist(trimmed)
}

func (v *Validator) checkWhitelist(sqlText string) Verdict {
	for _, match := range tableRefPattern.FindAllStringSubmatch(sqlText, -1) {
		table := strings.ToLower(match[1])
		if v.whitelist == nil || !v.whitelist.Allows(table) {
			return unsafe(ReasonTableNotAllowed, "", fmt.Sprintf("table %q is not in the allowed set", table))
		}
	}
	return Verdict{Safe: true, Message: "OK"}
}

func (v *Validator) checkPatterns(upper string) Verdict {
	for _, keyword := range patternDenylist {
		if patternKeywordPatterns[keyword].MatchString(upper) {
			return unsafe(ReasonForbiddenKeyword, keyword, fmt.Sprintf("operation %s is not allowed", keyword))
		}
	}
	if match := procPrefixPattern.FindString(upper); match != "" {
		keyword := strings.TrimLeftFunc(match, func(r rune) bool {
			return !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
		})
		return unsafe(ReasonForbiddenKeyword, keyword, fmt.Sprintf("system procedure %s is not allowed", keyword))
	}

	if strings.Contains(upper, "0X") || strings.Contains(upper, "CHAR(") || strings.Contains(upper, "CHR(") {
		return unsafe(ReasonEncodedLiteral, "", "encoded character literals are not allowed")
	}
	if strings.Contains(upper, "CONCAT(") && (strings.Contains(upper, "0X") || strings.Contains(upper, "CHAR")) {
		return unsafe(ReasonEncodedLiteral, "", "string concatenation with encoding is not allowed")
	}

	if strings.Contains(upper, "SLEEP(") || strings.Contains(upper, "BENCHMARK(") || strings.Contains(upper, "WAITFOR") {
		return unsafe(ReasonTimingFunction, "", "time-based functions are not allowed")
	}

	return Verdict{Safe: true, Message: "OK"}
}

func unsafe(reason Reason, keyword, message string) Verdict {
	return Verdict{Safe: false, Reason: reason, Keyword: keyword, Message: message}
}
