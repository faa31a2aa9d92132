package security

import (
	"regexp"
	"strings"

	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// Caller identifies who is performing an operation.
type Caller struct {
	// ID is the caller identity (token subject or API key name). Empty for
	// anonymous callers.
	ID string

	// Roles are the caller's granted roles.
	Roles []string
}

// RoleGrant defines what a role may do.
type RoleGrant struct {
	// AllTables grants blanket table access.
	AllTables bool `yaml:"all_tables"`

	// Tables is the explicit table list when AllTables is false.
	Tables []string `yaml:"tables"`

	// Operations are the allowed operation verbs (SELECT, INSERT, ...).
	Operations []string `yaml:"operations"`
}

// AuthzConfig configures the authorization stage.
type AuthzConfig struct {
	// AllowedOperations, when non-empty, is the operation allow-list used
	// when no role policy is configured.
	AllowedOperations []string `yaml:"allowed_operations"`

	// ForbiddenOperations always deny, regardless of other settings.
	ForbiddenOperations []string `yaml:"forbidden_operations"`

	// AllowedTables, when non-empty, restricts table access to this list.
	AllowedTables []string `yaml:"allowed_tables"`

	// ForbiddenTables always deny.
	ForbiddenTables []string `yaml:"forbidden_tables"`

	// TablePattern, when set, is a regular expression every table name
	// must match.
	TablePattern string `yaml:"table_pattern"`

	// Roles enables the role-based policy when non-empty. Anything not
	// explicitly granted is denied.
	Roles map[string]RoleGrant `yaml:"roles"`
}

// Authorizer gates operations by verb and table. Table-name constraints
// (pattern, allow/deny lists) are checked independently of the role policy.
type Authorizer struct {
	cfg          AuthzConfig
	tableRe      *regexp.Regexp
	allowedOps   map[string]bool
	forbiddenOps map[string]bool
	allowedTabs  map[string]bool
	forbiddenTab map[string]bool
}

// NewAuthorizer creates an authorizer, compiling the table pattern.
func NewAuthorizer(cfg AuthzConfig) (*Authorizer, error) {
	a := &Authorizer{
		cfg:          cfg,
		allowedOps:   upperSet(cfg.AllowedOperations),
		forbiddenOps: upperSet(cfg.ForbiddenOperations),
		allowedTabs:  upperSet(cfg.AllowedTables),
		forbiddenTab: upperSet(cfg.ForbiddenTables),
	}
	if cfg.TablePattern != "" {
		re, err := regexp.Compile(cfg.TablePattern)
		if err != nil {
			return nil, gwerrors.Wrap(err, gwerrors.KindUnknown, "compiling table pattern")
		}
		a.tableRe = re
	}
	return a, nil
}

// Authorize checks whether caller may run operation against table. The
// table may be empty for operations without a target object.
func (a *Authorizer) Authorize(caller Caller, operation, table string) error {
	op := strings.ToUpper(operation)

	if a.forbiddenOps[op] {
		return denied("operation "+op+" is forbidden", op, table)
	}
	if table != "" {
		if err := a.checkTable(op, table); err != nil {
			return err
		}
	}

	if len(a.cfg.Roles) > 0 {
		return a.checkRoles(caller, op, table)
	}

	if len(a.allowedOps) > 0 && !a.allowedOps[op] {
		return denied("operation "+op+" is not in the allowed list", op, table).
			WithSuggestion("use one of the allowed operations or update the gateway configuration")
	}
	return nil
}

// checkTable enforces the table constraints that apply regardless of role.
func (a *Authorizer) checkTable(op, table string) error {
	name := strings.ToUpper(table)

	if a.forbiddenTab[name] {
		return denied("table "+name+" is forbidden", op, table)
	}
	if len(a.allowedTabs) > 0 && !a.allowedTabs[name] {
		return denied("table "+name+" is not in the allowed list", op, table)
	}
	if a.tableRe != nil && !a.tableRe.MatchString(table) {
		return denied("table "+name+" does not match the allowed pattern", op, table).
			WithContext("pattern", a.cfg.TablePattern)
	}
	return nil
}

// checkRoles applies the role policy: the caller needs at least one role
// granting both the operation and the table.
func (a *Authorizer) checkRoles(caller Caller, op, table string) error {
	if len(caller.Roles) == 0 {
		return denied("caller identity with a role is required", op, table).
			WithSuggestion("authenticate with a token that carries a role claim")
	}

	for _, role := range caller.Roles {
		grant, ok := a.cfg.Roles[role]
		if !ok {
			continue
		}
		if grantAllows(grant, op, table) {
			return nil
		}
	}
	return denied("no role grants "+op+" on "+strings.ToUpper(table), op, table)
}

func grantAllows(grant RoleGrant, op, table string) bool {
	opOK := false
	for _, g := range grant.Operations {
		if strings.EqualFold(g, op) {
			opOK = true
			break
		}
	}
	if !opOK {
		return false
	}

	if table == "" || grant.AllTables {
		return true
	}
	for _, t := range grant.Tables {
		if strings.EqualFold(t, table) {
			return true
		}
	}
	return false
}

func denied(reason, op, table string) *gwerrors.Error {
	e := gwerrors.New(gwerrors.KindAuthorization, reason).
		WithContext("operation", op)
	if table != "" {
		e = e.WithContext("table", strings.ToUpper(table))
	}
	return e
}

func upperSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[strings.ToUpper(it)] = true
	}
	return set
}
