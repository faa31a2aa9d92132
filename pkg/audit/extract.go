package audit

import (
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Verb returns the operation verb: the first SQL keyword, upper-cased.
func Verb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// Extraction patterns per verb, used when the parser cannot handle the
// statement (Firebird dialect constructs, DDL, procedure calls).
var (
	fromPattern    = regexp.MustCompile(`(?is)\bFROM\s+([A-Za-z_][A-Za-z0-9_$]*)`)
	intoPattern    = regexp.MustCompile(`(?is)\bINTO\s+([A-Za-z_][A-Za-z0-9_$]*)`)
	updatePattern  = regexp.MustCompile(`(?is)^\s*UPDATE\s+([A-Za-z_][A-Za-z0-9_$]*)`)
	ddlPattern     = regexp.MustCompile(`(?is)^\s*(?:CREATE|DROP|ALTER|RECREATE)\s+(?:TABLE|VIEW|INDEX|TRIGGER|PROCEDURE|SEQUENCE|GENERATOR)?\s*([A-Za-z_][A-Za-z0-9_$]*)`)
	executePattern = regexp.MustCompile(`(?is)^\s*EXECUTE\s+(?:PROCEDURE\s+)?([A-Za-z_][A-Za-z0-9_$]*)`)
)

// Target extracts the primary object name a statement operates on:
// the FROM clause for SELECT/DELETE, the INTO clause for INSERT, the
// table after UPDATE, the object after CREATE/DROP/ALTER, and the
// procedure after EXECUTE. Returns "" when nothing can be extracted.
func Target(sql string) string {
	if name := targetFromAST(sql); name != "" {
		return name
	}

	var m []string
	switch Verb(sql) {
	case "SELECT", "DELETE":
		m = fromPattern.FindStringSubmatch(sql)
	case "INSERT":
		m = intoPattern.FindStringSubmatch(sql)
	case "UPDATE":
		m = updatePattern.FindStringSubmatch(sql)
	case "CREATE", "DROP", "ALTER", "RECREATE":
		m = ddlPattern.FindStringSubmatch(sql)
	case "EXECUTE":
		m = executePattern.FindStringSubmatch(sql)
	}
	if len(m) < 2 {
		return ""
	}
	return strings.ToUpper(m[1])
}

// targetFromAST parses standard DML with sqlparser and returns the first
// table reference found.
func targetFromAST(sql string) string {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return ""
	}

	var name string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if name != "" {
			return false, nil
		}
		if tn, ok := node.(sqlparser.TableName); ok && !tn.Name.IsEmpty() {
			name = strings.ToUpper(tn.Name.String())
			return false, nil
		}
		return true, nil
	}, stmt)
	return name
}
