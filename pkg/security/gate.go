package security

import (
	"context"
	"time"

	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/audit"
	gwerrors "github.com/PuroDelphi/mcpFirebird-sub002/pkg/errors"
)

// GateConfig assembles the gate stages. Every stage is on by default;
// the Disable* flags switch individual stages off.
type GateConfig struct {
	DisableValidation    bool `yaml:"disable_validation"`
	DisableAuthorization bool `yaml:"disable_authorization"`
	DisableLimits        bool `yaml:"disable_limits"`
	DisableMasking       bool `yaml:"disable_masking"`

	Validator ValidatorConfig `yaml:"validator"`
	Authz     AuthzConfig     `yaml:"authorization"`
	Limits    LimitsConfig    `yaml:"limits"`

	// MaskingRules apply in order to every result row.
	MaskingRules []MaskingRule `yaml:"masking_rules"`

	// RowFilters maps table name to a filter condition.
	RowFilters map[string]string `yaml:"row_filters"`
}

// Operation is one inbound call to be gated.
type Operation struct {
	SessionID  string
	Caller     Caller
	Tool       string
	SQL        string
	Parameters []any

	// Table overrides target extraction for non-SQL tools that name a
	// table directly (describe-table, get-field-descriptions).
	Table string
}

// Decision is the outcome of gating one operation: allowed, or denied
// with the rejection kind and reason.
type Decision struct {
	Allowed bool
	Kind    gwerrors.Kind
	Reason  string
	err     error
}

// Err returns the typed rejection error, or nil when allowed.
func (d Decision) Err() error { return d.err }

func allowedDecision() Decision {
	return Decision{Allowed: true}
}

func deniedDecision(err error) Decision {
	return Decision{
		Allowed: false,
		Kind:    gwerrors.KindOf(err),
		Reason:  err.Error(),
		err:     err,
	}
}

// Gate runs every inbound operation through validation, authorization
// and resource limiting, post-processes results through row filtering
// and masking, and emits one audit entry per outcome.
type Gate struct {
	cfg       GateConfig
	validator *Validator
	authz     *Authorizer
	limiter   *ResourceLimiter
	masker    *Masker
	recorder  *audit.Recorder
}

// NewGate builds the pipeline from cfg. The recorder may be nil when
// auditing is disabled entirely.
func NewGate(cfg GateConfig, recorder *audit.Recorder) (*Gate, error) {
	g := &Gate{cfg: cfg, recorder: recorder}

	if !cfg.DisableValidation {
		g.validator = NewValidator(cfg.Validator)
	}
	if !cfg.DisableAuthorization {
		authz, err := NewAuthorizer(cfg.Authz)
		if err != nil {
			return nil, err
		}
		g.authz = authz
	}
	if !cfg.DisableLimits {
		g.limiter = NewResourceLimiter(cfg.Limits)
	}
	if !cfg.DisableMasking {
		masker, err := NewMasker(cfg.MaskingRules, cfg.RowFilters)
		if err != nil {
			return nil, err
		}
		g.masker = masker
	}
	return g, nil
}

// CheckOperation gates one inbound operation. On denial the decision
// carries the rejection kind and reason, and a failure audit entry is
// emitted. The query counter increments on every call regardless of
// outcome.
func (g *Gate) CheckOperation(ctx context.Context, op Operation) Decision {
	if err := g.check(op); err != nil {
		g.RecordOutcome(ctx, op, nil, 0, 0, err)
		return deniedDecision(err)
	}
	return allowedDecision()
}

func (g *Gate) check(op Operation) error {
	if g.validator != nil && op.SQL != "" {
		if err := g.validator.ValidateSQL(op.SQL); err != nil {
			return err
		}
	}

	if g.authz != nil {
		if err := g.authz.Authorize(op.Caller, g.verb(op), g.target(op)); err != nil {
			return err
		}
	}

	if g.limiter != nil {
		if err := g.limiter.RecordQuery(op.SessionID); err != nil {
			return err
		}
		if err := g.limiter.AllowRequest(op.SessionID); err != nil {
			return err
		}
	}
	return nil
}

// PostProcess applies the result-side stages: the row-count cap on the
// raw result, per-table row filtering, column masking, and the response
// size cap on what will actually be sent.
func (g *Gate) PostProcess(table string, rows []map[string]any) ([]map[string]any, error) {
	if g.limiter != nil {
		if err := g.limiter.CheckRowCount(len(rows)); err != nil {
			return nil, err
		}
	}

	if g.masker != nil {
		rows = g.masker.FilterRows(table, rows)
		rows = g.masker.MaskRows(rows)
	}

	if g.limiter != nil {
		if err := g.limiter.CheckResponseSize(rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// RecordOutcome emits one audit entry for a completed (or rejected)
// operation. The result payload is passed along and stripped by the
// recorder unless response logging is enabled. Best-effort: sink failures
// never propagate.
func (g *Gate) RecordOutcome(ctx context.Context, op Operation, result any, rowCount int, duration time.Duration, opErr error) {
	if g.recorder == nil {
		return
	}

	entry := audit.Entry{
		SessionID:  op.SessionID,
		CallerID:   op.Caller.ID,
		Operation:  g.verb(op),
		Target:     g.target(op),
		Query:      op.SQL,
		Parameters: op.Parameters,
		Success:    opErr == nil,
		DurationMS: duration.Milliseconds(),
		RowCount:   rowCount,
		Response:   result,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	g.recorder.Record(ctx, entry)
}

// ReleaseSession drops per-session limiter state. Wired to registry
// removal so counters do not outlive their session.
func (g *Gate) ReleaseSession(sessionID string) {
	if g.limiter != nil {
		g.limiter.ReleaseSession(sessionID)
	}
}

func (g *Gate) verb(op Operation) string {
	if op.SQL != "" {
		return audit.Verb(op.SQL)
	}
	return op.Tool
}

func (g *Gate) target(op Operation) string {
	if op.Table != "" {
		return op.Table
	}
	return audit.Target(op.SQL)
}
