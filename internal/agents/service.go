// Package agents is the unified agent store: a durable backend with an
// in-memory fallback and a short-lived read cache in front of list queries.
package agents

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/metrics"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/internal/storage"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// Defaults applied on create when the input leaves a field empty.
const (
	DefaultName         = "Unnamed Agent"
	DefaultCategory     = "General"
	DefaultPrice        = "0.01"
	DefaultComputeModel = "gpt-4"
)

const minCacheBytes = 512 * 1024

// Options configures the read cache.
type Options struct {
	CacheTTL    time.Duration
	CacheSizeMB int
}

// Service fronts the durable store. Writes that fail durably land in the
// memory fallback so they never fail from the caller's point of view.
type Service struct {
	durable  storage.AgentStore
	fallback *storage.MemoryStorage
	cache    *freecache.Cache
	cacheTTL time.Duration
	validate *validator.Validate
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry
	now      func() time.Time

	// serialises read-modify-write sequences within this process
	writeMu sync.Mutex
}

// NewService creates the façade. durable may be nil, in which case every
// operation is served by the memory fallback.
func NewService(durable storage.AgentStore, opts Options, metricsManager *metrics.Manager) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 60 * time.Second
	}
	size := opts.CacheSizeMB * 1024 * 1024
	if size < minCacheBytes {
		size = minCacheBytes
	}

	return &Service{
		durable:  durable,
		fallback: storage.NewMemoryStorage(),
		cache:    freecache.NewCache(size),
		cacheTTL: opts.CacheTTL,
		validate: utils.NewValidator(),
		metrics:  metricsManager.GetPrometheusMetrics(),
		logger:   utils.ComponentLogger("agents"),
		now:      time.Now,
	}
}

// Fallback exposes the memory store, mainly for health reporting.
func (s *Service) Fallback() *storage.MemoryStorage { return s.fallback }

// Create defaults, validates and stores a new agent.
func (s *Service) Create(ctx context.Context, in *models.AgentInput) (*models.UnifiedAgent, error) {
	if in == nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Agent payload is required", "")
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, utils.ValidationError("Invalid agent", err)
	}

	agent, err := s.fromInput(in)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if strings.TrimSpace(in.ID) != "" {
		existing, err := s.lookup(ctx, "get", func(st storage.AgentStore) (*models.UnifiedAgent, error) {
			return st.GetAgent(ctx, agent.ID)
		})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, utils.NewAppError(utils.ErrCodeValidation, "Agent id already exists", agent.ID)
		}
	}

	if err := s.write(ctx, "create", agent, func(st storage.AgentStore) error {
		return st.CreateAgent(ctx, agent)
	}); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"agent_id":   agent.ID,
		"creator":    agent.Creator,
		"listing_id": agent.ListingID,
	}).Info("Agent created")
	return agent.Clone(), nil
}

func (s *Service) fromInput(in *models.AgentInput) (*models.UnifiedAgent, error) {
	now := s.now()
	agent := &models.UnifiedAgent{
		ID:                   strings.TrimSpace(in.ID),
		TokenID:              in.TokenID,
		AgentContractAddress: utils.NormalizeAddress(in.AgentContractAddress),
		Name:                 strings.TrimSpace(in.Name),
		Description:          in.Description,
		Image:                in.Image,
		Category:             strings.TrimSpace(in.Category),
		Creator:              utils.NormalizeAddress(in.Creator),
		CurrentOwner:         utils.NormalizeAddress(in.CurrentOwner),
		TxHash:               strings.ToLower(in.TxHash),
		StorageURI:           in.StorageURI,
		ListingID:            in.ListingID,
		Active:               true,
		CreatedAt:            now,
		Social:               in.Social,
		Capabilities:         append([]string{}, in.Capabilities...),
		ComputeModel:         strings.TrimSpace(in.ComputeModel),
	}

	if agent.ID == "" {
		agent.ID = utils.GenerateAgentID(now)
	}
	if agent.Name == "" {
		agent.Name = DefaultName
	}
	if agent.Category == "" {
		agent.Category = DefaultCategory
	}
	if agent.ComputeModel == "" {
		agent.ComputeModel = DefaultComputeModel
	}
	if agent.CurrentOwner == "" {
		agent.CurrentOwner = agent.Creator
	}
	if in.Active != nil {
		agent.Active = *in.Active
	}

	price, priceWei, err := resolvePrice(in.Price, in.PriceWei)
	if err != nil {
		return nil, err
	}
	agent.Price = price
	agent.PriceWei = priceWei
	return agent, nil
}

// resolvePrice fills whichever of price/priceWei is missing and rejects
// values that disagree.
func resolvePrice(price, priceWei string) (string, string, error) {
	price = strings.TrimSpace(price)
	priceWei = strings.TrimSpace(priceWei)

	switch {
	case price == "" && priceWei == "":
		price = DefaultPrice
		fallthrough
	case priceWei == "":
		wei, err := models.PriceToWei(price)
		if err != nil {
			return "", "", utils.WrapError(utils.ErrCodeValidation, "Invalid price", err)
		}
		return price, wei.String(), nil
	case price == "":
		wei, err := models.ParseWei(priceWei)
		if err != nil {
			return "", "", utils.WrapError(utils.ErrCodeValidation, "Invalid priceWei", err)
		}
		return models.WeiToPrice(wei), wei.String(), nil
	}

	if !models.PricesConsistent(price, priceWei) {
		return "", "", utils.NewAppError(utils.ErrCodeValidation,
			"price and priceWei disagree", price+" != "+priceWei+" wei")
	}
	return price, priceWei, nil
}

// Get returns the agent by id, trying the durable store before the fallback.
func (s *Service) Get(ctx context.Context, id string) (*models.UnifiedAgent, error) {
	agent, err := s.lookup(ctx, "get", func(st storage.AgentStore) (*models.UnifiedAgent, error) {
		return st.GetAgent(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Agent not found", id)
	}
	return agent, nil
}

// List returns the agents matching filter, newest first. Durable results are
// cached per filter set until the TTL expires or any write happens.
func (s *Service) List(ctx context.Context, filter models.AgentFilter) ([]*models.UnifiedAgent, error) {
	key := []byte(filter.CacheKey())

	if cached, err := s.cache.Get(key); err == nil {
		var agents []*models.UnifiedAgent
		if err := json.Unmarshal(cached, &agents); err == nil {
			s.metrics.RecordCacheRequest(true)
			return agents, nil
		}
		s.cache.Del(key)
	}
	s.metrics.RecordCacheRequest(false)

	if s.durable != nil {
		agents, err := s.durable.ListAgents(ctx, filter)
		if err == nil {
			if b, err := json.Marshal(agents); err == nil {
				if err := s.cache.Set(key, b, int(s.cacheTTL.Seconds())); err != nil {
					s.logger.WithError(err).Debug("Agent list not cached")
				}
			}
			return agents, nil
		}
		s.degraded("list", err)
	}

	return s.fallback.ListAgents(ctx, filter)
}

// Update applies patch on behalf of requester, who must be the creator.
func (s *Service) Update(ctx context.Context, id string, patch *models.AgentPatch, requester string) (*models.UnifiedAgent, error) {
	if patch == nil {
		patch = &models.AgentPatch{}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// authorization comes before any look at the patch
	if !utils.SameAddress(agent.Creator, requester) {
		return nil, utils.NewAppError(utils.ErrCodeForbidden, "Only the creator can update this agent", id)
	}
	if err := s.validate.Struct(patch); err != nil {
		return nil, utils.ValidationError("Invalid agent update", err)
	}

	if err := applyPatch(agent, patch); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return agent, nil
	}

	if err := s.save(ctx, "update", agent); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"agent_id": id, "requester": requester}).Info("Agent updated")
	return agent, nil
}

func applyPatch(agent *models.UnifiedAgent, p *models.AgentPatch) error {
	if p.Name != nil {
		agent.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		agent.Description = *p.Description
	}
	if p.Image != nil {
		agent.Image = *p.Image
	}
	if p.Category != nil {
		agent.Category = strings.TrimSpace(*p.Category)
	}
	if p.Price != nil {
		wei, err := models.PriceToWei(strings.TrimSpace(*p.Price))
		if err != nil {
			return utils.WrapError(utils.ErrCodeValidation, "Invalid price", err)
		}
		agent.Price = strings.TrimSpace(*p.Price)
		agent.PriceWei = wei.String()
	}
	if p.Active != nil {
		agent.Active = *p.Active
	}
	if p.Social != nil {
		agent.Social = *p.Social
	}
	if p.Capabilities != nil {
		agent.Capabilities = append([]string{}, (*p.Capabilities)...)
	}
	if p.ComputeModel != nil {
		agent.ComputeModel = strings.TrimSpace(*p.ComputeModel)
	}
	return nil
}

// MarkSold deactivates the agent and hands it to buyer. An agent that is
// already inactive is returned unchanged.
func (s *Service) MarkSold(ctx context.Context, id, buyer string) (*models.UnifiedAgent, error) {
	if !utils.IsValidAddress(buyer) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid buyer address", buyer)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.markSold(ctx, agent, buyer)
}

func (s *Service) markSold(ctx context.Context, agent *models.UnifiedAgent, buyer string) (*models.UnifiedAgent, error) {
	if !agent.Active {
		return agent, nil
	}

	agent.Active = false
	agent.CurrentOwner = utils.NormalizeAddress(buyer)
	if err := s.save(ctx, "mark_sold", agent); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"agent_id":   agent.ID,
		"buyer":      agent.CurrentOwner,
		"listing_id": agent.ListingID,
	}).Info("Agent marked as sold")
	return agent, nil
}

// MarkSoldByListing marks the agent carrying listingID as sold. It returns
// (nil, nil) when no agent has that listing.
func (s *Service) MarkSoldByListing(ctx context.Context, listingID uint64, buyer string) (*models.UnifiedAgent, error) {
	if listingID == models.ListingIDUnknown {
		return nil, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	agent, err := s.lookup(ctx, "find_by_listing", func(st storage.AgentStore) (*models.UnifiedAgent, error) {
		return st.FindAgentByListing(ctx, listingID)
	})
	if err != nil || agent == nil {
		return nil, err
	}
	return s.markSold(ctx, agent, buyer)
}

// AttachListing records a listing id recovered after the agent was persisted.
// An agent whose listing is already known keeps it.
func (s *Service) AttachListing(ctx context.Context, id string, listingID uint64) (*models.UnifiedAgent, error) {
	if listingID == models.ListingIDUnknown {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Listing id must be positive", "")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Listed() {
		if agent.ListingID != listingID {
			s.logger.WithFields(logrus.Fields{
				"agent_id": id,
				"current":  agent.ListingID,
				"observed": listingID,
			}).Warn("Agent already carries a different listing id")
		}
		return agent, nil
	}

	agent.ListingID = listingID
	if err := s.save(ctx, "attach_listing", agent); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"agent_id": id, "listing_id": listingID}).Info("Listing attached to agent")
	return agent, nil
}

// FindByToken looks an agent up by its minted token.
func (s *Service) FindByToken(ctx context.Context, contract, tokenID string) (*models.UnifiedAgent, error) {
	return s.lookup(ctx, "find_by_token", func(st storage.AgentStore) (*models.UnifiedAgent, error) {
		return st.FindAgentByToken(ctx, contract, tokenID)
	})
}

// lookup reads from the durable store, then the fallback. A record missing
// durably may still exist in the fallback if it was written during an outage.
func (s *Service) lookup(ctx context.Context, op string, fn func(storage.AgentStore) (*models.UnifiedAgent, error)) (*models.UnifiedAgent, error) {
	if s.durable != nil {
		agent, err := fn(s.durable)
		if err == nil && agent != nil {
			return agent, nil
		}
		if err != nil {
			s.degraded(op, err)
		}
	}
	return fn(s.fallback)
}

// save writes a modified agent durably, falling back to memory.
func (s *Service) save(ctx context.Context, op string, agent *models.UnifiedAgent) error {
	return s.write(ctx, op, agent, func(st storage.AgentStore) error {
		return st.SaveAgent(ctx, agent)
	})
}

func (s *Service) write(ctx context.Context, op string, agent *models.UnifiedAgent, fn func(storage.AgentStore) error) error {
	defer s.cache.Clear()

	if s.durable != nil {
		err := fn(s.durable)
		if err == nil {
			// keep the fallback copy, if any, from shadowing newer durable state
			if existing, _ := s.fallback.GetAgent(ctx, agent.ID); existing != nil {
				_ = s.fallback.SaveAgent(ctx, agent)
			}
			return nil
		}
		s.degraded(op, err)
	}
	return fn(s.fallback)
}

func (s *Service) degraded(op string, err error) {
	s.metrics.RecordStoreFallback(op)
	s.logger.WithError(err).WithField("operation", op).Warn("Durable store unavailable, using in-memory fallback")
}
