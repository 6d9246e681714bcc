// Package factory wires the client core: config, logger, vault, backend
// client, session controller, and the gates.
package factory

import (
	"context"
	"fmt"

	"finpay-client/internal/api"
	"finpay-client/internal/authflow"
	"finpay-client/internal/config"
	"finpay-client/internal/kyc"
	"finpay-client/internal/mpin"
	"finpay-client/internal/session"
	"finpay-client/internal/util"
	"finpay-client/internal/vault"
)

// Factory manages the lifecycle of the client core's dependencies.
type Factory struct {
	config    *config.Config
	vault     vault.Vault
	apiClient *api.Client
	session   *session.Controller
	flow      *authflow.Machine
	mpinGate  *mpin.Gate
	kycGate   *kyc.Gate
}

// NewFactory loads config, initializes the logger, and builds the core.
func NewFactory(ctx context.Context) (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	provider, err := vault.NewKeyProvider(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key provider: %w", err)
	}
	fileVault, err := vault.NewFileVault(cfg.Vault.Path, provider, util.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	apiClient := api.NewClient(cfg.Client, util.Get())
	controller := session.NewController(fileVault, apiClient, util.Get())

	f := &Factory{
		config:    cfg,
		vault:     fileVault,
		apiClient: apiClient,
		session:   controller,
		flow:      authflow.NewMachine(apiClient, controller, util.Get()),
		mpinGate:  mpin.NewGate(fileVault),
		kycGate:   kyc.NewGate(apiClient, util.Get()),
	}

	util.Info("client core initialized",
		util.String("environment", cfg.Environment),
		util.String("backend", cfg.Client.BaseURL),
		util.Bool("kms_vault", cfg.Vault.KMSEnabled),
	)
	return f, nil
}

func (f *Factory) Config() *config.Config       { return f.config }
func (f *Factory) Vault() vault.Vault           { return f.vault }
func (f *Factory) APIClient() *api.Client       { return f.apiClient }
func (f *Factory) Session() *session.Controller { return f.session }
func (f *Factory) Flow() *authflow.Machine      { return f.flow }
func (f *Factory) MPINGate() *mpin.Gate         { return f.mpinGate }
func (f *Factory) KYCGate() *kyc.Gate           { return f.kycGate }

// Close flushes buffered log entries.
func (f *Factory) Close() {
	util.Sync()
}
