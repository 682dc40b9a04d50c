// Package wiring adapts each subsystem's public service to the small
// consumer-defined interfaces the other subsystems declare against it
// (dispatch.AccountLookup, risk.AccountLookup, agentreg.RiskOracle, and so
// on). Every subsystem's Service already satisfies the interfaces whose
// method set matches verbatim (RiskOracle, AuditSink); the adapters here
// exist only where a name or return type needs translating.
package wiring

import (
	"context"

	"dispatchd.dev/internal/account"
	"dispatchd.dev/internal/agentreg"
	"dispatchd.dev/internal/dispatch"
	"dispatchd.dev/internal/risk"
)

// AccountForDispatch adapts account.Service to dispatch.AccountLookup and
// dispatch.AccountReporter.
type AccountForDispatch struct {
	Accounts *account.Service
}

func (a AccountForDispatch) GetByID(ctx context.Context, id string) (dispatch.AccountView, error) {
	acc, err := a.Accounts.GetByID(ctx, id)
	if err != nil {
		return dispatch.AccountView{}, err
	}
	return dispatch.AccountView{ID: acc.ID, UserID: acc.UserID}, nil
}

func (a AccountForDispatch) MarkSessionExpired(ctx context.Context, accountID string) error {
	_, err := a.Accounts.UpdateValidationStatus(ctx, accountID, account.ValidationExpired)
	return err
}

// AccountForRisk adapts account.Service to risk.AccountLookup.
type AccountForRisk struct {
	Accounts *account.Service
}

func (a AccountForRisk) Get(ctx context.Context, accountID string) (risk.AccountView, error) {
	acc, err := a.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return risk.AccountView{}, err
	}
	return risk.AccountView{
		ID:               acc.ID,
		ValidationStatus: string(acc.ValidationStatus),
		HealthStatus:     string(acc.HealthStatus),
		UserPaused:       acc.UserPaused,
	}, nil
}

// AccountForAgentReg adapts account.Service to agentreg.AccountLookup.
type AccountForAgentReg struct {
	Accounts *account.Service
}

func (a AccountForAgentReg) GetByID(ctx context.Context, id string) (agentreg.AccountView, error) {
	acc, err := a.Accounts.GetByID(ctx, id)
	if err != nil {
		return agentreg.AccountView{}, err
	}
	return agentreg.AccountView{ID: acc.ID, UserID: acc.UserID}, nil
}

// RiskForDispatch adapts risk.Service to dispatch.RiskReporter, tagging the
// side-effect violation raised when an agent reports a job as failed with
// FailureSessionExpired.
type RiskForDispatch struct {
	Risk *risk.Service
}

func (r RiskForDispatch) RecordSessionExpiredViolation(ctx context.Context, accountID, jobID string) error {
	id := jobID
	_, err := r.Risk.RecordSystemViolation(ctx, accountID, &id, "SESSION_EXPIRED", risk.SeverityHigh)
	return err
}
