// Package kyc gates access to main functionality on a remote KYC status.
package kyc

import (
	"context"

	"finpay-client/internal/api"
	"finpay-client/internal/util"

	"go.uber.org/zap"
)

// Status is the tri-state KYC outcome.
type Status string

const (
	NotSubmitted Status = "not_submitted"
	Pending      Status = "pending"
	Approved     Status = "approved"
)

// Backend is the slice of the API client the gate consults.
type Backend interface {
	KYCStatus(ctx context.Context, token string) (*api.KYCStatusResponse, error)
}

// Gate resolves the KYC status fresh on every check; approval can change
// server-side while the app is idle, so nothing is cached.
type Gate struct {
	backend Backend
	logger  *zap.Logger
}

func NewGate(backend Backend, logger *zap.Logger) *Gate {
	return &Gate{backend: backend, logger: logger}
}

// CheckStatus resolves the current status. Everything that is not an explicit
// approved or pending response resolves to NotSubmitted: network failure,
// malformed payloads, and unknown status strings all fail closed. Access is
// denied rather than ambiguously allowed.
func (g *Gate) CheckStatus(ctx context.Context, token string) Status {
	resp, err := g.backend.KYCStatus(ctx, token)
	if err != nil {
		g.logger.Warn("kyc status fetch failed, denying access", util.ErrorField(err))
		return NotSubmitted
	}
	if !resp.Success || resp.Data == nil {
		return NotSubmitted
	}
	switch resp.Data.KYCStatus {
	case "Approved":
		return Approved
	case "Pending":
		return Pending
	default:
		return NotSubmitted
	}
}
