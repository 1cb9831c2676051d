package saga

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Saga kinds.
const (
	SagaCreate   = "create_and_list"
	SagaPurchase = "purchase"
)

// Step names a saga state. Each step starts only after the previous one is
// confirmed on chain.
type Step string

// Create-and-list steps.
const (
	StepUploadMetadata  Step = "upload_metadata"
	StepCreateAgent     Step = "create_agent"
	StepResolveContract Step = "resolve_contract"
	StepMint            Step = "mint"
	StepApprove         Step = "approve"
	StepList            Step = "list"
	StepResolveListing  Step = "resolve_listing"
	StepPersist         Step = "persist"
	StepDone            Step = "done"
)

// Purchase steps.
const (
	StepValidateListing Step = "validate_listing"
	StepBuy             Step = "buy"
	StepMarkSold        Step = "mark_sold"
)

// CreateSteps lists the create-and-list steps in order.
var CreateSteps = []Step{
	StepUploadMetadata, StepCreateAgent, StepResolveContract, StepMint, StepApprove,
	StepList, StepResolveListing, StepPersist, StepDone,
}

// PurchaseSteps lists the purchase steps in order.
var PurchaseSteps = []Step{StepValidateListing, StepBuy, StepMarkSold, StepDone}

// ProgressStore persists the current-step pointer of a saga.
type ProgressStore interface {
	SaveSagaProgress(ctx context.Context, progress *models.SagaProgress) error
}

// StepRecorder writes step transitions to a ProgressStore. Recording is
// best effort: a failed write is logged and the saga continues.
type StepRecorder struct {
	store  ProgressStore
	logger *logrus.Entry
	now    func() time.Time
}

// NewStepRecorder creates a recorder. A nil store only logs.
func NewStepRecorder(store ProgressStore) *StepRecorder {
	return &StepRecorder{
		store:  store,
		logger: utils.ComponentLogger("saga"),
		now:    time.Now,
	}
}

// run tracks one saga instance.
type run struct {
	recorder *StepRecorder
	progress models.SagaProgress
	started  time.Time
	flagged  bool
}

func (r *StepRecorder) start(kind string) *run {
	return &run{
		recorder: r,
		progress: models.SagaProgress{
			SagaID: utils.GenerateID("saga"),
			Kind:   kind,
		},
	}
}

func (r *run) enter(ctx context.Context, step Step) {
	r.started = r.recorder.now()
	r.progress.Step = string(step)
	r.progress.Status = models.SagaStatusRunning
	r.progress.Detail = ""
	r.recorder.save(ctx, &r.progress)
}

func (r *run) finish(ctx context.Context, status models.SagaStatus, detail string) time.Duration {
	r.progress.Status = status
	r.progress.Detail = detail
	r.recorder.save(ctx, &r.progress)
	return r.recorder.now().Sub(r.started)
}

func (r *StepRecorder) save(ctx context.Context, progress *models.SagaProgress) {
	progress.UpdatedAt = r.now().UTC()

	log := r.logger.WithFields(logrus.Fields{
		"saga_id": progress.SagaID,
		"saga":    progress.Kind,
		"step":    progress.Step,
		"status":  progress.Status,
	})
	if progress.TxHash != "" {
		log = log.WithField("tx_hash", progress.TxHash)
	}
	log.Debug("Saga step")

	if r.store == nil {
		return
	}
	// a cancelled saga still records where it stopped
	if err := r.store.SaveSagaProgress(context.WithoutCancel(ctx), progress); err != nil {
		log.WithError(err).Warn("Failed to persist saga progress")
	}
}
