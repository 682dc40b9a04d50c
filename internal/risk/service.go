package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dispatchd.dev/internal/ids"
)

const auditDomain = "risk"

// Service implements the Risk Oracle (spec §4.3).
type Service struct {
	rules      RuleStore
	violations ViolationStore
	scores     ScoreStore
	accounts   AccountLookup
	audit      AuditSink
	now        func() time.Time

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewService constructs a Service.
func NewService(rules RuleStore, violations ViolationStore, scores ScoreStore, accounts AccountLookup, audit AuditSink) (*Service, error) {
	if rules == nil || violations == nil || scores == nil {
		return nil, errors.New("risk: rule, violation and score stores are required")
	}
	if accounts == nil {
		return nil, errors.New("risk: account lookup is required")
	}
	return &Service{
		rules:      rules,
		violations: violations,
		scores:     scores,
		accounts:   accounts,
		audit:      audit,
		now:        time.Now,
		limiters:   make(map[string]*rate.Limiter),
	}, nil
}

// CreateRule creates a rate-limit rule.
func (s *Service) CreateRule(ctx context.Context, actionType string, maxCount int, window time.Duration) (RateLimitRule, error) {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return RateLimitRule{}, fmt.Errorf("%w: action_type is required", ErrInvalidInput)
	}
	if maxCount <= 0 {
		return RateLimitRule{}, fmt.Errorf("%w: max_count must be positive", ErrInvalidInput)
	}
	if window <= 0 {
		return RateLimitRule{}, fmt.Errorf("%w: window_duration must be positive", ErrInvalidInput)
	}
	r := &RateLimitRule{
		ID:             ids.New(),
		ActionType:     actionType,
		MaxCount:       maxCount,
		WindowDuration: window,
		IsActive:       true,
	}
	if err := s.rules.Create(ctx, r); err != nil {
		return RateLimitRule{}, err
	}
	return *r, nil
}

// ListActiveRules lists active rules, optionally scoped to one actionType.
func (s *Service) ListActiveRules(ctx context.Context, actionType string) ([]RateLimitRule, error) {
	return s.rules.ListActive(ctx, strings.TrimSpace(actionType))
}

// AcknowledgeViolation resolves a violation, taking it out of the unresolved
// window CalculateRiskScore consults. Apart from the RiskScore row that a
// control-plane score request persists, it is the only control-plane write
// against risk state; only an operator with the risk.acknowledge permission
// may call it (spec Open Question resolution, wired at the wire layer).
func (s *Service) AcknowledgeViolation(ctx context.Context, violationID string) error {
	violationID = strings.TrimSpace(violationID)
	if violationID == "" {
		return fmt.Errorf("%w: violation_id is required", ErrInvalidInput)
	}
	v, err := s.violations.FindByID(ctx, violationID)
	if err != nil {
		return err
	}
	if v.ResolvedAt != nil {
		return nil
	}
	if err := s.violations.Resolve(ctx, violationID, s.now().UTC()); err != nil {
		return err
	}
	s.appendAudit(ctx, "risk.violation_acknowledged", violationID, v.AccountID)
	return nil
}

// RecordViolation validates the referenced account and rule and writes a
// Violation row.
func (s *Service) RecordViolation(ctx context.Context, accountID, ruleID string, jobID *string, violationType string, severity Severity) (Violation, error) {
	accountID = strings.TrimSpace(accountID)
	ruleID = strings.TrimSpace(ruleID)
	violationType = strings.TrimSpace(violationType)
	if accountID == "" || ruleID == "" || violationType == "" {
		return Violation{}, fmt.Errorf("%w: account_id, rule_id and violation_type are required", ErrInvalidInput)
	}
	if err := validateSeverity(severity); err != nil {
		return Violation{}, err
	}
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return Violation{}, err
	}
	if _, err := s.rules.FindByID(ctx, ruleID); err != nil {
		return Violation{}, err
	}

	v := &Violation{
		ID:            ids.New(),
		AccountID:     accountID,
		RuleID:        ruleID,
		JobID:         jobID,
		ViolationType: violationType,
		Severity:      severity,
		DetectedAt:    s.now().UTC(),
	}
	if err := s.violations.Create(ctx, v); err != nil {
		return Violation{}, err
	}
	s.appendAudit(ctx, "risk.violation_recorded", v.ID, accountID)
	return *v, nil
}

// RecordSystemViolation writes a Violation not tied to any RateLimitRule —
// used for signals raised directly by other subsystems (e.g. the Job
// Dispatcher reporting a SESSION_EXPIRED result), which have no rule row to
// validate against.
func (s *Service) RecordSystemViolation(ctx context.Context, accountID string, jobID *string, violationType string, severity Severity) (Violation, error) {
	accountID = strings.TrimSpace(accountID)
	violationType = strings.TrimSpace(violationType)
	if accountID == "" || violationType == "" {
		return Violation{}, fmt.Errorf("%w: account_id and violation_type are required", ErrInvalidInput)
	}
	if err := validateSeverity(severity); err != nil {
		return Violation{}, err
	}
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return Violation{}, err
	}
	v := &Violation{
		ID:            ids.New(),
		AccountID:     accountID,
		RuleID:        "system",
		JobID:         jobID,
		ViolationType: violationType,
		Severity:      severity,
		DetectedAt:    s.now().UTC(),
	}
	if err := s.violations.Create(ctx, v); err != nil {
		return Violation{}, err
	}
	s.appendAudit(ctx, "risk.violation_recorded", v.ID, accountID)
	return *v, nil
}

// CalculateRiskScore is a pure function of unresolved violations within a
// 7-day window and account health status (spec §4.3). It persists and
// returns the computed RiskScore.
func (s *Service) CalculateRiskScore(ctx context.Context, accountID string) (RiskScore, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return RiskScore{}, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return RiskScore{}, err
	}
	now := s.now().UTC()
	unresolved, err := s.violations.ListUnresolvedSince(ctx, accountID, now.Add(-violationWindow))
	if err != nil {
		return RiskScore{}, err
	}

	var sum float64
	factors := map[string]any{}
	bySeverity := map[Severity]int{}
	for _, v := range unresolved {
		sum += severityWeight(v.Severity)
		bySeverity[v.Severity]++
	}
	factors["violations_by_severity"] = bySeverity

	switch acc.HealthStatus {
	case "SUSPENDED":
		sum += 0.5
		factors["health_status_penalty"] = 0.5
	case "DEGRADED":
		sum += 0.2
		factors["health_status_penalty"] = 0.2
	}

	sum = math.Max(0, math.Min(1, sum))
	score := &RiskScore{
		ID:           ids.New(),
		AccountID:    accountID,
		Score:        sum,
		Level:        bucketLevel(sum),
		Factors:      factors,
		CalculatedAt: now,
	}
	if err := s.scores.Create(ctx, score); err != nil {
		return RiskScore{}, err
	}
	return *score, nil
}

// IsExecutionAllowed is the critical predicate (spec §4.3). The Oracle
// never mutates jobs; callers must observe this and stop issuing work.
func (s *Service) IsExecutionAllowed(ctx context.Context, accountID string) (allowed bool, reason string, err error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return false, "", fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	acc, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ReasonSessionInvalid, nil
		}
		return false, "", err
	}
	if acc.ValidationStatus == "EXPIRED" || acc.ValidationStatus == "DISCONNECTED" {
		return false, ReasonSessionInvalid, nil
	}
	if acc.HealthStatus == "SUSPENDED" {
		return false, ReasonRiskPause, nil
	}
	latest, err := s.scores.Latest(ctx, accountID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, "", err
	}
	if latest != nil && latest.Level == LevelCritical {
		return false, ReasonRiskPause, nil
	}
	if acc.UserPaused {
		return false, ReasonUserPaused, nil
	}
	return true, "", nil
}

// CheckRateLimit enforces the active RateLimitRule for actionType against a
// per-account token bucket, recording a violation and returning false when
// exceeded. Rules with no matching active row impose no limit.
func (s *Service) CheckRateLimit(ctx context.Context, accountID, actionType string) (bool, error) {
	accountID = strings.TrimSpace(accountID)
	actionType = strings.TrimSpace(actionType)
	rules, err := s.rules.ListActive(ctx, actionType)
	if err != nil {
		return false, err
	}
	if len(rules) == 0 {
		return true, nil
	}
	rule := rules[0]

	limiter := s.limiterFor(accountID, actionType, rule)
	if limiter.Allow() {
		return true, nil
	}
	if _, err := s.RecordViolation(ctx, accountID, rule.ID, nil, "RATE_LIMIT_EXCEEDED", SeverityMedium); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) limiterFor(accountID, actionType string, rule RateLimitRule) *rate.Limiter {
	key := accountID + "|" + actionType
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		every := rule.WindowDuration / time.Duration(rule.MaxCount)
		l = rate.NewLimiter(rate.Every(every), rule.MaxCount)
		s.limiters[key] = l
	}
	return l
}

func (s *Service) appendAudit(ctx context.Context, eventType, entityID, actorID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Append(ctx, auditDomain, eventType, "violation", entityID, "System", actorID, nil)
}

func validateSeverity(sev Severity) error {
	switch sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("%w: unsupported severity %s", ErrInvalidInput, sev)
	}
}
