package risk

import (
	"context"
	"testing"
	"time"
)

type fakeAccounts struct {
	accounts map[string]AccountView
}

func (f *fakeAccounts) Get(ctx context.Context, accountID string) (AccountView, error) {
	a, ok := f.accounts[accountID]
	if !ok {
		return AccountView{}, ErrNotFound
	}
	return a, nil
}

func newTestService(t *testing.T, accounts map[string]AccountView) *Service {
	t.Helper()
	svc, err := NewService(NewMemRuleStore(), NewMemViolationStore(), NewMemScoreStore(), &fakeAccounts{accounts: accounts}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestIsExecutionAllowedSessionInvalid(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "EXPIRED", HealthStatus: "HEALTHY"},
	})
	allowed, reason, err := svc.IsExecutionAllowed(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("IsExecutionAllowed: %v", err)
	}
	if allowed || reason != ReasonSessionInvalid {
		t.Fatalf("expected SESSION_INVALID, got allowed=%v reason=%s", allowed, reason)
	}
}

func TestIsExecutionAllowedAccountMissingIsSessionInvalid(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{})
	allowed, reason, err := svc.IsExecutionAllowed(context.Background(), "missing")
	if err != nil {
		t.Fatalf("IsExecutionAllowed: %v", err)
	}
	if allowed || reason != ReasonSessionInvalid {
		t.Fatalf("expected SESSION_INVALID for missing account, got allowed=%v reason=%s", allowed, reason)
	}
}

func TestIsExecutionAllowedRiskPauseOnSuspendedHealth(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "SUSPENDED"},
	})
	allowed, reason, err := svc.IsExecutionAllowed(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("IsExecutionAllowed: %v", err)
	}
	if allowed || reason != ReasonRiskPause {
		t.Fatalf("expected RISK_PAUSE, got allowed=%v reason=%s", allowed, reason)
	}
}

func TestIsExecutionAllowedUserPaused(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "HEALTHY", UserPaused: true},
	})
	allowed, reason, err := svc.IsExecutionAllowed(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("IsExecutionAllowed: %v", err)
	}
	if allowed || reason != ReasonUserPaused {
		t.Fatalf("expected USER_PAUSED, got allowed=%v reason=%s", allowed, reason)
	}
}

func TestIsExecutionAllowedHappyPath(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "HEALTHY"},
	})
	allowed, reason, err := svc.IsExecutionAllowed(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("IsExecutionAllowed: %v", err)
	}
	if !allowed || reason != "" {
		t.Fatalf("expected allowed with empty reason, got allowed=%v reason=%s", allowed, reason)
	}
}

func TestCalculateRiskScoreWeightsAndBuckets(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "DEGRADED"},
	})
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "SEND_MESSAGE", 5, time.Hour)
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if _, err := svc.RecordViolation(ctx, "acct-1", rule.ID, nil, "SPAM_PATTERN", SeverityHigh); err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}

	score, err := svc.CalculateRiskScore(ctx, "acct-1")
	if err != nil {
		t.Fatalf("CalculateRiskScore: %v", err)
	}
	// HIGH (0.6) + DEGRADED (0.2) = 0.8 -> CRITICAL bucket.
	if score.Score != 0.8 {
		t.Fatalf("expected score 0.8, got %v", score.Score)
	}
	if score.Level != LevelCritical {
		t.Fatalf("expected CRITICAL level, got %v", score.Level)
	}
}

func TestIsExecutionAllowedRiskPauseOnCriticalScore(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "HEALTHY"},
	})
	ctx := context.Background()
	rule, err := svc.CreateRule(ctx, "SEND_MESSAGE", 5, time.Hour)
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if _, err := svc.RecordViolation(ctx, "acct-1", rule.ID, nil, "SPAM_PATTERN", SeverityCritical); err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}
	if _, err := svc.CalculateRiskScore(ctx, "acct-1"); err != nil {
		t.Fatalf("CalculateRiskScore: %v", err)
	}

	allowed, reason, err := svc.IsExecutionAllowed(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IsExecutionAllowed: %v", err)
	}
	if allowed || reason != ReasonRiskPause {
		t.Fatalf("expected RISK_PAUSE from CRITICAL score, got allowed=%v reason=%s", allowed, reason)
	}
}

func TestCheckRateLimitEnforcesMaxCount(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "HEALTHY"},
	})
	ctx := context.Background()
	if _, err := svc.CreateRule(ctx, "LIKE_POST", 1, time.Minute); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	allowed, err := svc.CheckRateLimit(ctx, "acct-1", "LIKE_POST")
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if !allowed {
		t.Fatalf("expected first call to be allowed")
	}
	allowed, err = svc.CheckRateLimit(ctx, "acct-1", "LIKE_POST")
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if allowed {
		t.Fatalf("expected second call within window to be denied")
	}
}

func TestCheckRateLimitNoRuleAllowsAll(t *testing.T) {
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "HEALTHY"},
	})
	allowed, err := svc.CheckRateLimit(context.Background(), "acct-1", "COMMENT_POST")
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if !allowed {
		t.Fatalf("expected no rule to allow the action")
	}
}

func TestAcknowledgeViolationTakesItOutOfScoring(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, map[string]AccountView{
		"acct-1": {ID: "acct-1", ValidationStatus: "CONNECTED", HealthStatus: "HEALTHY"},
	})
	rule, err := svc.CreateRule(ctx, "LIKE_POST", 1, time.Minute)
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	v, err := svc.RecordViolation(ctx, "acct-1", rule.ID, nil, "RATE_LIMIT_EXCEEDED", SeverityHigh)
	if err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}

	before, err := svc.CalculateRiskScore(ctx, "acct-1")
	if err != nil {
		t.Fatalf("CalculateRiskScore: %v", err)
	}
	if before.Score != severityWeight(SeverityHigh) {
		t.Fatalf("expected score to reflect the unresolved violation, got %f", before.Score)
	}

	if err := svc.AcknowledgeViolation(ctx, v.ID); err != nil {
		t.Fatalf("AcknowledgeViolation: %v", err)
	}
	after, err := svc.CalculateRiskScore(ctx, "acct-1")
	if err != nil {
		t.Fatalf("CalculateRiskScore: %v", err)
	}
	if after.Score != 0 {
		t.Fatalf("expected acknowledged violation to drop out of scoring, got %f", after.Score)
	}
}
