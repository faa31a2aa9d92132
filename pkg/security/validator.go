// Package security implements the gate every database operation passes
// through: SQL validation, authorization, resource limiting, rate limiting,
// auditing, and post-query masking and row filtering. Each stage is
// independently configurable and raises a classified error on rejection.
package security

import (
	"regexp"
	"strings"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// ValidatorConfig configures the SQL validator stage.
type ValidatorConfig struct {
	// AllowUnsafe short-circuits every check. Intended for trusted
	// single-user deployments only.
	AllowUnsafe bool `yaml:"allow_unsafe"`

	// AllowSystemTables permits references to system catalogs.
	AllowSystemTables bool `yaml:"allow_system_tables"`

	// AllowedSystemTables, when non-empty, restricts permitted system
	// catalog references to this list (requires AllowSystemTables).
	AllowedSystemTables []string `yaml:"allowed_system_tables"`

	// AllowDDL permits schema-mutating statements (CREATE/ALTER/DROP).
	AllowDDL bool `yaml:"allow_ddl"`
}

// Validator rejects SQL that matches injection-indicative patterns,
// references reserved catalogs, or mutates schema without permission.
// It is a guardrail, not a full parser.
type Validator struct {
	cfg           ValidatorConfig
	allowedSystem map[string]bool
}

// Injection-indicative patterns. Statement chaining into a mutating verb,
// UNION-based exfiltration, inline comments, dangerous procedure calls, and
// file-exfiltration clauses.
var (
	chainedStatementPattern = regexp.MustCompile(`(?is);\s*(?:DROP|DELETE|UPDATE|INSERT|ALTER|CREATE)\b`)
	unionPattern            = regexp.MustCompile(`(?is)\bUNION\b.*\bSELECT\b`)
	inlineCommentPattern    = regexp.MustCompile(`(?s)--|/\*.*\*/`)
	dangerousProcPattern    = regexp.MustCompile(`(?is)\b(?:EXECUTE\s+BLOCK|EXECUTE\s+STATEMENT|xp_cmdshell|sp_executesql)\b`)
	fileAccessPattern       = regexp.MustCompile(`(?is)\b(?:INTO\s+(?:OUT|DUMP)FILE|LOAD_FILE\s*\()`)

	systemTablePattern = regexp.MustCompile(`(?i)\b((?:RDB|MON|SEC)\$[A-Z0-9_$]+)`)
	ddlPattern         = regexp.MustCompile(`(?is)^\s*(?:CREATE|ALTER|DROP|RECREATE)\b`)
	dmlShapePattern    = regexp.MustCompile(`(?is)^\s*(?:SELECT|INSERT|UPDATE|DELETE)\b`)
)

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	allowed := make(map[string]bool, len(cfg.AllowedSystemTables))
	for _, t := range cfg.AllowedSystemTables {
		allowed[strings.ToUpper(t)] = true
	}
	return &Validator{cfg: cfg, allowedSystem: allowed}
}

// ValidateSQL checks sql against the configured rules. It returns nil when
// the statement is acceptable and a classified error naming the violated
// rule otherwise.
func (v *Validator) ValidateSQL(sql string) error {
	if v.cfg.AllowUnsafe {
		return nil
	}

	if err := v.checkInjectionPatterns(sql); err != nil {
		return err
	}
	if err := v.checkSystemTables(sql); err != nil {
		return err
	}
	if err := v.checkDDL(sql); err != nil {
		return err
	}
	return v.checkBalance(sql)
}

func (v *Validator) checkInjectionPatterns(sql string) error {
	checks := []struct {
		pattern *regexp.Regexp
		rule    string
		message string
	}{
		{chainedStatementPattern, "chained_statement", "statement chaining into a mutating statement is not allowed"},
		{unionPattern, "union_select", "UNION-based queries are not allowed"},
		{inlineCommentPattern, "inline_comment", "SQL comments are not allowed"},
		{dangerousProcPattern, "dangerous_procedure", "dangerous procedure invocation is not allowed"},
		{fileAccessPattern, "file_access", "file access clauses are not allowed"},
	}

	for _, c := range checks {
		if c.pattern.MatchString(sql) {
			return gwerrors.New(gwerrors.KindSQLValidation, c.message).
				WithContext("rule", c.rule).
				WithSuggestion("rewrite the query without the flagged construct, or enable unsafe queries if this deployment is trusted")
		}
	}
	return nil
}

func (v *Validator) checkSystemTables(sql string) error {
	matches := systemTablePattern.FindAllStringSubmatch(sql, -1)
	if len(matches) == 0 {
		return nil
	}

	if !v.cfg.AllowSystemTables {
		return gwerrors.New(gwerrors.KindSQLValidation, "access to system tables is not allowed").
			WithContext("rule", "system_table").
			WithContext("table", strings.ToUpper(matches[0][1]))
	}

	if len(v.allowedSystem) == 0 {
		return nil
	}
	for _, m := range matches {
		name := strings.ToUpper(m[1])
		if !v.allowedSystem[name] {
			return gwerrors.Newf(gwerrors.KindSQLValidation, "system table %s is not in the allowed list", name).
				WithContext("rule", "system_table_allowlist").
				WithContext("table", name)
		}
	}
	return nil
}

func (v *Validator) checkDDL(sql string) error {
	if v.cfg.AllowDDL || !ddlPattern.MatchString(sql) {
		return nil
	}
	return gwerrors.New(gwerrors.KindSQLValidation, "schema-mutating statements are not allowed").
		WithContext("rule", "ddl").
		WithSuggestion("enable DDL in the gateway configuration to run schema changes")
}

// checkBalance treats unbalanced quotes or parentheses in statement-shaped
// input as a syntax-risk signal.
func (v *Validator) checkBalance(sql string) error {
	if !dmlShapePattern.MatchString(sql) {
		return nil
	}

	quotes := strings.Count(sql, "'")
	if quotes%2 != 0 {
		return gwerrors.New(gwerrors.KindSQLValidation, "unbalanced quotes in statement").
			WithContext("rule", "unbalanced_quotes")
	}
	if strings.Count(sql, "(") != strings.Count(sql, ")") {
		return gwerrors.New(gwerrors.KindSQLValidation, "unbalanced parentheses in statement").
			WithContext("rule", "unbalanced_parentheses")
	}
	return nil
}
