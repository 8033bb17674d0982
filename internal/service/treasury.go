package service

import (
	"context"

	"github.com/shopspring/decimal"

	"treasury/internal/model"
)

// TreasuryService defines the business operations of the treasury engine.
// All transport layers (HTTP, NATS) and workers depend on this interface,
// not on the concrete engine.
type TreasuryService interface {
	// Tenant lifecycle (provisioning collaborator).
	RegisterOrg(ctx context.Context, org string, cfg model.OrgConfig) error
	UpdateOrgConfig(ctx context.Context, org string, cfg model.OrgConfig) error
	ResetOrgState(ctx context.Context, org string) error
	ForceArchive(ctx context.Context, org string) error

	// Balances.
	VaultBalance(ctx context.Context, org string) (map[model.Rail]uint64, error)
	UserBalance(ctx context.Context, org, user string) (map[model.Rail]uint64, error)
	FactoryVault(ctx context.Context) map[model.Rail]uint64

	// Value movement.
	Withdraw(ctx context.Context, req model.WithdrawRequest) (*model.WithdrawResult, error)
	RepAwarded(ctx context.Context, org, user string, repDelta int64) error
	RunPayoutCycle(ctx context.Context, org string) (*model.PayoutReport, error)

	// Conversion intent operator surface.
	ListConversions(ctx context.Context, org string) ([]model.ConversionIntent, error)
	RetryConversion(ctx context.Context, id string) (*model.ConversionIntent, error)
	MarkConversionCompleted(ctx context.Context, id, txid string) error
	MarkConversionFailed(ctx context.Context, id, reason string) error

	// Deposit bridge.
	DepositAddress(ctx context.Context, org, user string, rail model.Rail) (string, error)
	RecordDeposit(ctx context.Context, dep model.Deposit) (string, error)
	ProcessInboundDeposits(ctx context.Context, org string) (int, error)

	// Audit logs.
	TipEvents(ctx context.Context, org string) ([]model.TipEvent, error)
	PayoutEvents(ctx context.Context, org string) ([]model.PayoutEvent, error)

	// Administrative configuration.
	SetUserCompliance(ctx context.Context, org, user string, rec model.ComplianceRecord) error
	SetRailPrice(ctx context.Context, rail model.Rail, price decimal.Decimal) error
	SetControllers(ctx context.Context, c model.Controllers) error
	SetOrgAdminOverride(ctx context.Context, org, principal string) error
	ConfigureLedgerEndpoint(ctx context.Context, url string) error
	ConfigureMinterEndpoint(ctx context.Context, rail model.Rail, url string) error
}
