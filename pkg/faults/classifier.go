package faults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/codeready-toolchain/agentrun/pkg/agent"
	"github.com/codeready-toolchain/agentrun/pkg/breaker"
	"github.com/codeready-toolchain/agentrun/pkg/config"
)

// Classification is the outcome of classifying one error.
type Classification struct {
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Code        string   `json:"code"`
}

// Observer is called with every recorded error, outside any lock.
type Observer func(ErrorRecord)

// Classifier classifies errors and records them. It holds no per-run state;
// the history it feeds is used for metrics only.
type Classifier struct {
	cfg     *config.ErrorsConfig
	clock   clockwork.Clock
	history *History

	obsMu     sync.RWMutex
	observers []Observer
}

// NewClassifier creates a classifier with a history sized from cfg.
func NewClassifier(cfg *config.ErrorsConfig, clk clockwork.Clock) *Classifier {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Classifier{
		cfg:     cfg,
		clock:   clk,
		history: NewHistory(cfg.HistorySize),
	}
}

// AddObserver registers fn to receive every recorded error.
func (c *Classifier) AddObserver(fn Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

// History returns the error history.
func (c *Classifier) History() *History {
	return c.history
}

// match is what a rule decides about an error. A nil recoverable leaves the
// decision to the keyword heuristics.
type match struct {
	category    Category
	code        string
	recoverable *bool
	hint        string
}

func yes() *bool { b := true; return &b }
func no() *bool  { b := false; return &b }

// Classify assigns a category, severity, recoverability and code to err.
// Rules are tried in order and the first match wins: an explicit *Error,
// then known sentinel and driver error types, then keyword rules over the
// error's type names and message.
func (c *Classifier) Classify(err error, execCtx agent.ExecutionContext) Classification {
	if err == nil {
		return Classification{}
	}

	hay := haystack(err)
	m, ok := explicitRule(err)
	if !ok {
		m, ok = sentinelRule(err)
	}
	if !ok {
		m = keywordRule(hay)
	}
	if m.hint != "" {
		hay += " " + m.hint
	}

	cls := Classification{
		Category: m.category,
		Severity: severityFor(m.category, hay),
		Code:     m.code,
	}
	if m.recoverable != nil {
		cls.Recoverable = *m.recoverable
	} else {
		cls.Recoverable = c.recoverableFor(m.category, hay)
	}

	if !execCtx.IsZero() {
		slog.Debug("Classified error",
			"correlation_id", execCtx.CorrelationID(),
			"category", cls.Category,
			"severity", cls.Severity,
			"recoverable", cls.Recoverable,
			"code", cls.Code)
	}
	return cls
}

// Handle classifies err, appends an ErrorRecord to the history and notifies
// observers. ec may be nil.
func (c *Classifier) Handle(err error, ec *ErrorContext) ErrorRecord {
	var execCtx agent.ExecutionContext
	if ec != nil {
		execCtx = ec.ExecCtx
	}
	cls := c.Classify(err, execCtx)

	rec := ErrorRecord{
		ErrorID:       uuid.New().String(),
		Category:      cls.Category,
		Severity:      cls.Severity,
		IsRecoverable: cls.Recoverable,
		Code:          cls.Code,
		UserMessage:   UserMessage(cls.Code),
		Context:       ec.fields(),
		Timestamp:     c.clock.Now().UTC(),
	}
	if err != nil {
		rec.Message = strings.TrimSpace(err.Error())
	}
	if rec.Message == "" {
		rec.Message = "unspecified error (" + rec.Code + ")"
	}
	if ec != nil && ec.RetryCount > 0 {
		rec.Context["retry_count"] = fmt.Sprint(ec.RetryCount)
	}

	c.history.Add(rec)

	attrs := []any{
		"error_id", rec.ErrorID,
		"category", rec.Category,
		"severity", rec.Severity,
		"code", rec.Code,
		"recoverable", rec.IsRecoverable,
		"correlation_id", rec.Context["correlation_id"],
		"error", rec.Message,
	}
	if rec.Severity == SeverityCritical || rec.Severity == SeverityHigh {
		slog.Error("Execution error recorded", attrs...)
	} else {
		slog.Warn("Execution error recorded", attrs...)
	}

	c.obsMu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.obsMu.RUnlock()
	for _, fn := range observers {
		fn(rec.clone())
	}
	return rec
}

func explicitRule(err error) (match, bool) {
	var fe *Error
	if !errors.As(err, &fe) {
		return match{}, false
	}
	r := fe.Recoverable
	code := fe.Code
	if code == "" {
		code = defaultCode(fe.Category, "")
	}
	return match{category: fe.Category, code: code, recoverable: &r}, true
}

func sentinelRule(err error) (match, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return match{category: CategoryTimeout, code: CodeAgentTimeout, recoverable: yes()}, true
	case errors.Is(err, context.Canceled):
		return match{category: CategoryProcessing, code: CodeCancelled, recoverable: no()}, true
	case errors.Is(err, breaker.ErrOpen):
		return match{category: CategoryNetwork, code: CodeServiceUnavailable, recoverable: no()}, true
	case errors.Is(err, sql.ErrNoRows):
		return match{category: CategoryDatabase, code: CodeNotFound, recoverable: no()}, true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgRule(pgErr), true
	}

	if websocket.CloseStatus(err) != -1 {
		return match{category: CategoryWebSocket, code: CodeWebSocket, recoverable: no()}, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return match{category: CategoryTimeout, code: CodeServiceUnavailable, recoverable: yes()}, true
		}
		return match{category: CategoryNetwork, code: CodeServiceUnavailable, recoverable: yes()}, true
	}
	return match{}, false
}

// pgRule classifies by SQLSTATE class.
func pgRule(e *pgconn.PgError) match {
	switch {
	case e.Code == "23505":
		return match{category: CategoryDatabase, code: CodeAlreadyExists, recoverable: no(), hint: "constraint"}
	case strings.HasPrefix(e.Code, "23"):
		return match{category: CategoryDatabase, code: CodeDatabase, recoverable: no(), hint: "constraint"}
	case e.Code == "40001", e.Code == "40P01", e.Code == "57P01",
		strings.HasPrefix(e.Code, "08"), strings.HasPrefix(e.Code, "53"):
		return match{category: CategoryDatabase, code: CodeDatabase, recoverable: yes()}
	case strings.HasPrefix(e.Code, "28"), e.Code == "42501":
		return match{category: CategoryDatabase, code: CodeDatabase, recoverable: no(), hint: "permission"}
	default:
		return match{category: CategoryDatabase, code: CodeDatabase, recoverable: no()}
	}
}

type keywordSet struct {
	category Category
	words    []string
}

// keywordRules are tried in order.
var keywordRules = []keywordSet{
	{CategoryDatabase, []string{"database", "sql", "postgres", "pgx", "deadlock", "duplicate key", "constraint"}},
	{CategoryValidation, []string{"validation", "invalid", "malformed", "required", "placeholder", "valueerror"}},
	{CategoryNetwork, []string{"network", "connection", "dial ", "no such host", "unreachable", "refused", "reset by peer", "broken pipe", "service unavailable", "serviceunavailable", "temporary failure"}},
	{CategoryProcessing, []string{"agent", "llm", "model", "tool", "processing", "rate limit", "ratelimit"}},
	{CategoryWebSocket, []string{"websocket"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline"}},
	{CategoryAuth, []string{"auth", "permission", "forbidden", "unauthorized", "credential", "access denied"}},
}

func keywordRule(hay string) match {
	for _, rule := range keywordRules {
		if containsAny(hay, rule.words) {
			return match{category: rule.category, code: defaultCode(rule.category, hay)}
		}
	}
	return match{category: CategoryUnknown, code: CodeInternal}
}

func defaultCode(cat Category, hay string) string {
	switch cat {
	case CategoryDatabase:
		switch {
		case containsAny(hay, []string{"not found", "no rows"}):
			return CodeNotFound
		case containsAny(hay, []string{"duplicate", "already exists"}):
			return CodeAlreadyExists
		}
		return CodeDatabase
	case CategoryValidation:
		return CodeValidation
	case CategoryNetwork:
		return CodeServiceUnavailable
	case CategoryProcessing:
		if containsAny(hay, []string{"rate limit", "ratelimit"}) {
			return CodeLLMRateLimit
		}
		return CodeAgentFailed
	case CategoryWebSocket:
		return CodeWebSocket
	case CategoryTimeout:
		return CodeAgentTimeout
	case CategoryAuth:
		if containsAny(hay, []string{"permission", "forbidden", "access denied"}) {
			return CodeAuthorization
		}
		return CodeAuthentication
	default:
		return CodeInternal
	}
}

func severityFor(cat Category, hay string) Severity {
	switch {
	case containsAny(hay, []string{"critical", "outofmemory", "out of memory"}):
		return SeverityCritical
	case cat == CategoryAuth:
		return SeverityHigh
	case cat == CategoryDatabase && strings.Contains(hay, "constraint"):
		return SeverityHigh
	case cat == CategoryProcessing, cat == CategoryValidation:
		return SeverityMedium
	case cat == CategoryTimeout, cat == CategoryNetwork:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

var (
	nonRecoverableWords = []string{"permission", "auth", "validation", "notfound", "not found", "constraint", "outofmemory", "out of memory", "critical"}
	recoverableWords    = []string{"timeout", "timed out", "ratelimit", "rate limit", "connection", "network", "serviceunavailable", "service unavailable", "temporaryfailure", "temporary failure"}
)

func (c *Classifier) recoverableFor(cat Category, hay string) bool {
	switch {
	case containsAny(hay, nonRecoverableWords):
		return false
	case containsAny(hay, recoverableWords):
		return true
	}
	switch cat {
	case CategoryTimeout, CategoryNetwork, CategoryDatabase, CategoryProcessing:
		return true
	case CategoryValidation, CategoryAuth, CategoryWebSocket:
		return false
	default:
		return c.cfg.RecoverUnknownErrors
	}
}

// haystack is the lower-cased type names of err's chain plus its message.
func haystack(err error) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%T ", e)
	}
	b.WriteString(err.Error())
	return strings.ToLower(b.String())
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ErrorRecord is one recorded error. Context holds identifiers only.
type ErrorRecord struct {
	ErrorID       string            `json:"error_id"`
	Category      Category          `json:"category"`
	Severity      Severity          `json:"severity"`
	IsRecoverable bool              `json:"is_recoverable"`
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	UserMessage   string            `json:"user_message"`
	Context       map[string]string `json:"context"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (r ErrorRecord) clone() ErrorRecord {
	ctx := make(map[string]string, len(r.Context))
	for k, v := range r.Context {
		ctx[k] = v
	}
	r.Context = ctx
	return r
}
