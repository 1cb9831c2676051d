// Package saga drives the create-and-list and purchase flows. Each flow is a
// fixed sequence of named steps; the current step is persisted after every
// transition so an interrupted run can be traced. Nothing is rolled back.
package saga

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/connection"
	"github.com/smartdevs17/inft-marketplace/internal/contracts"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/notification"
	"github.com/smartdevs17/inft-marketplace/internal/pinning"
	"github.com/smartdevs17/inft-marketplace/internal/reconcile"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Config holds gas limits, the fallback creation fee and the upload timeout.
type Config struct {
	CreateAgentGas uint64
	TxGas          uint64
	BuyGas         uint64
	// CreationFee is sent with createAgent when the factory's fee view fails.
	CreationFee   *big.Int
	UploadTimeout time.Duration
}

// DefaultConfig returns the limits used against public testnets.
func DefaultConfig() Config {
	return Config{
		CreateAgentGas: 5_000_000,
		TxGas:          500_000,
		BuyGas:         500_000,
		CreationFee:    big.NewInt(10_000_000_000_000_000),
		UploadTimeout:  pinning.DefaultTimeout,
	}
}

// AgentStore is the subset of the unified agent store the sagas write to.
type AgentStore interface {
	Create(ctx context.Context, in *models.AgentInput) (*models.UnifiedAgent, error)
	Get(ctx context.Context, id string) (*models.UnifiedAgent, error)
	MarkSold(ctx context.Context, id, buyer string) (*models.UnifiedAgent, error)
}

// Deps are the collaborators of an Orchestrator. Uploader, Notifier and
// Recorder may be nil.
type Deps struct {
	Client      connection.Client
	Factory     *contracts.Factory
	Marketplace *contracts.Marketplace
	NFT         *contracts.AgentNFT
	Engine      *reconcile.Engine
	Agents      AgentStore
	Uploader    pinning.Uploader
	Notifier    notification.Notifier
	Recorder    *StepRecorder
}

// Orchestrator runs sagas for the client's account.
type Orchestrator struct {
	Deps
	cfg      Config
	validate *validator.Validate
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, metricsManager *metrics.Manager) *Orchestrator {
	def := DefaultConfig()
	if cfg.CreateAgentGas == 0 {
		cfg.CreateAgentGas = def.CreateAgentGas
	}
	if cfg.TxGas == 0 {
		cfg.TxGas = def.TxGas
	}
	if cfg.BuyGas == 0 {
		cfg.BuyGas = def.BuyGas
	}
	if cfg.CreationFee == nil {
		cfg.CreationFee = def.CreationFee
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = def.UploadTimeout
	}
	if deps.Recorder == nil {
		deps.Recorder = NewStepRecorder(nil)
	}
	if deps.NFT == nil {
		deps.NFT = contracts.NewAgentNFT(deps.Client)
	}

	return &Orchestrator{
		Deps:     deps,
		cfg:      cfg,
		validate: utils.NewValidator(),
		metrics:  metricsManager.GetPrometheusMetrics(),
		logger:   utils.ComponentLogger("saga"),
	}
}

func (o *Orchestrator) confirm(ctx context.Context, r *run, step Step, detail string) {
	status := models.SagaStatusConfirmed
	if step == StepDone && r.flagged {
		status = models.SagaStatusFlagged
	}
	elapsed := r.finish(ctx, status, detail)
	o.metrics.RecordSagaStep(r.progress.Kind, string(step), string(status), elapsed)
}

func (o *Orchestrator) flag(ctx context.Context, r *run, step Step, detail string) {
	r.flagged = true
	elapsed := r.finish(ctx, models.SagaStatusFlagged, detail)
	o.metrics.RecordSagaStep(r.progress.Kind, string(step), string(models.SagaStatusFlagged), elapsed)

	o.notify(ctx, notification.New(models.NotificationManualReconciliation,
		"Manual reconciliation required", detail, r.data()))
}

// fail records the failure and wraps err. Operators are alerted when a
// transaction was already submitted, since that side effect stays on chain.
func (o *Orchestrator) fail(ctx context.Context, r *run, step Step, err error) error {
	return o.failAs(ctx, r, step, err, Classify(err))
}

func (o *Orchestrator) failAs(ctx context.Context, r *run, step Step, err error, class Classification) error {
	elapsed := r.finish(ctx, models.SagaStatusFailed, class.Message)
	o.metrics.RecordSagaStep(r.progress.Kind, string(step), string(models.SagaStatusFailed), elapsed)

	o.logger.WithError(err).WithFields(logrus.Fields{
		"saga_id": r.progress.SagaID,
		"saga":    r.progress.Kind,
		"step":    step,
		"kind":    class.Kind,
		"tx_hash": r.progress.TxHash,
	}).Error("Saga step failed")

	if r.progress.TxHash != "" {
		data := r.data()
		data["error"] = err.Error()
		o.notify(ctx, notification.New(models.NotificationSagaFailed,
			"Saga failed after an on-chain transaction", class.Message, data))
	}

	return &StepError{
		Saga:   r.progress.Kind,
		Step:   step,
		Class:  class,
		TxHash: r.progress.TxHash,
		Err:    err,
	}
}

func (o *Orchestrator) notify(ctx context.Context, n *models.Notification) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		o.logger.WithError(err).WithField("notification_id", n.ID).Warn("Failed to deliver notification")
	}
}

// submit sends a transaction through fn and waits for its confirmation.
func (o *Orchestrator) submit(ctx context.Context, r *run, fn func() (common.Hash, error)) (*types.Receipt, error) {
	hash, err := fn()
	if err != nil {
		return nil, err
	}
	r.progress.TxHash = hash.Hex()
	return o.Engine.WaitConfirmed(ctx, hash)
}

func (r *run) data() map[string]interface{} {
	data := map[string]interface{}{
		"saga_id": r.progress.SagaID,
		"saga":    r.progress.Kind,
		"step":    r.progress.Step,
	}
	if r.progress.TxHash != "" {
		data["tx_hash"] = r.progress.TxHash
	}
	if r.progress.AgentID != "" {
		data["agent_id"] = r.progress.AgentID
	}
	return data
}
