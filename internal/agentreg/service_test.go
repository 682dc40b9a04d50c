package agentreg

import (
	"context"
	"testing"
)

type fakeAccounts struct {
	accounts map[string]AccountView
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (AccountView, error) {
	a, ok := f.accounts[id]
	if !ok {
		return AccountView{}, ErrNotFound
	}
	return a, nil
}

type fakeRisk struct {
	allowed bool
	reason  string
}

func (f *fakeRisk) IsExecutionAllowed(ctx context.Context, accountID string) (bool, string, error) {
	return f.allowed, f.reason, nil
}

func newTestService(t *testing.T, accountID, userID string, risk RiskOracle) *Service {
	t.Helper()
	accounts := &fakeAccounts{accounts: map[string]AccountView{
		accountID: {ID: accountID, UserID: userID},
	}}
	svc, err := NewService(NewMemAgentStore(), NewMemTokenStore(), accounts, risk, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRegisterRejectsWrongOwner(t *testing.T) {
	svc := newTestService(t, "acct-1", "user-1", nil)
	if _, err := svc.Register(context.Background(), "user-2", "acct-1", "1.0", "mac"); err == nil {
		t.Fatalf("expected ownership error")
	}
}

func TestRegisterIssuesTokenAndValidates(t *testing.T) {
	svc := newTestService(t, "acct-1", "user-1", nil)
	res, err := svc.Register(context.Background(), "user-1", "acct-1", "1.0", "mac")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.AgentToken == "" {
		t.Fatalf("expected token")
	}
	if res.PollIntervalSeconds != DefaultPollIntervalSeconds {
		t.Fatalf("unexpected poll interval: %d", res.PollIntervalSeconds)
	}

	agentID, accountID, err := svc.ValidateToken(context.Background(), res.AgentToken)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if agentID == "" || accountID != "acct-1" {
		t.Fatalf("unexpected validation result: %s %s", agentID, accountID)
	}
}

func TestReRegistrationRevokesPriorToken(t *testing.T) {
	svc := newTestService(t, "acct-1", "user-1", nil)
	first, err := svc.Register(context.Background(), "user-1", "acct-1", "1.0", "mac")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := svc.Register(context.Background(), "user-1", "acct-1", "1.1", "mac")
	if err != nil {
		t.Fatalf("Register (again): %v", err)
	}
	if first.AgentToken == second.AgentToken {
		t.Fatalf("expected a fresh token on re-registration")
	}
	if _, _, err := svc.ValidateToken(context.Background(), first.AgentToken); err == nil {
		t.Fatalf("expected first token to be revoked")
	}
	if _, _, err := svc.ValidateToken(context.Background(), second.AgentToken); err != nil {
		t.Fatalf("expected second token to remain valid: %v", err)
	}
}

func TestHeartbeatSurfacesRiskVerdict(t *testing.T) {
	svc := newTestService(t, "acct-1", "user-1", &fakeRisk{allowed: false, reason: "RISK_PAUSE"})
	res, err := svc.Register(context.Background(), "user-1", "acct-1", "1.0", "mac")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	verdict, err := svc.Heartbeat(context.Background(), res.AgentToken, ReportedIdle, "")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if verdict.Allowed || verdict.Reason != "RISK_PAUSE" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestHeartbeatRejectsInvalidToken(t *testing.T) {
	svc := newTestService(t, "acct-1", "user-1", nil)
	if _, err := svc.Heartbeat(context.Background(), "bogus", ReportedIdle, ""); err == nil {
		t.Fatalf("expected error for invalid token")
	}
}

func TestRevoke(t *testing.T) {
	svc := newTestService(t, "acct-1", "user-1", nil)
	res, err := svc.Register(context.Background(), "user-1", "acct-1", "1.0", "mac")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.Revoke(context.Background(), res.AgentToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Heartbeat(context.Background(), res.AgentToken, ReportedIdle, ""); err == nil {
		t.Fatalf("expected heartbeat to fail after revoke")
	}
}
