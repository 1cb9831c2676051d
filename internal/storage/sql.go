package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/inft-marketplace/internal/models"
	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

var nowFunc = time.Now

const latestBlockKey = "latest_processed_block"

const agentColumns = `id, token_id, agent_contract_address, name, description, image, category,
	price, price_wei, creator, current_owner, tx_hash, storage_uri, listing_id, active,
	created_at, social, capabilities, compute_model, views, likes, trending`

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	backend string
	rebind  func(string) string
	logger  *logrus.Entry
}

func questionMarks(query string) string { return query }

// dollarPlaceholders rewrites ? placeholders as $1, $2, ...
func dollarPlaceholders(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) connected() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", s.backend)
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	if err := s.connected(); err != nil {
		return err
	}
	return s.db.Ping()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("Database connection closed")
		return err
	}
	return nil
}

// Backend names the storage engine.
func (s *sqlStore) Backend() string { return s.backend }

func agentArgs(a *models.UnifiedAgent) ([]interface{}, error) {
	social, err := json.Marshal(a.Social)
	if err != nil {
		return nil, err
	}
	caps := a.Capabilities
	if caps == nil {
		caps = []string{}
	}
	capabilities, err := json.Marshal(caps)
	if err != nil {
		return nil, err
	}
	priceWei := a.PriceWei
	if priceWei == "" {
		priceWei = "0"
	}
	return []interface{}{
		a.ID, a.TokenID, a.AgentContractAddress, a.Name, a.Description, a.Image, a.Category,
		a.Price, priceWei, a.Creator, a.CurrentOwner, a.TxHash, a.StorageURI, int64(a.ListingID), a.Active,
		formatTime(a.CreatedAt), string(social), string(capabilities), a.ComputeModel, a.Views, a.Likes, a.Trending,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*models.UnifiedAgent, error) {
	var (
		a            models.UnifiedAgent
		listingID    int64
		createdAt    string
		social       string
		capabilities string
	)
	err := row.Scan(&a.ID, &a.TokenID, &a.AgentContractAddress, &a.Name, &a.Description, &a.Image, &a.Category,
		&a.Price, &a.PriceWei, &a.Creator, &a.CurrentOwner, &a.TxHash, &a.StorageURI, &listingID, &a.Active,
		&createdAt, &social, &capabilities, &a.ComputeModel, &a.Views, &a.Likes, &a.Trending)
	if err != nil {
		return nil, err
	}

	a.ListingID = uint64(listingID)
	a.CreatedAt = parseTime(createdAt)
	if social != "" {
		if err := json.Unmarshal([]byte(social), &a.Social); err != nil {
			return nil, fmt.Errorf("decode social: %w", err)
		}
	}
	if capabilities != "" {
		if err := json.Unmarshal([]byte(capabilities), &a.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
	return &a, nil
}

// CreateAgent inserts a new agent; the id must be unused.
func (s *sqlStore) CreateAgent(ctx context.Context, agent *models.UnifiedAgent) error {
	if err := s.connected(); err != nil {
		return err
	}
	args, err := agentArgs(agent)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to encode agent", err.Error())
	}

	query := s.rebind(`INSERT INTO agents (` + agentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create agent", err.Error())
	}
	return nil
}

// SaveAgent writes the full agent record, inserting it when missing.
func (s *sqlStore) SaveAgent(ctx context.Context, agent *models.UnifiedAgent) error {
	if err := s.connected(); err != nil {
		return err
	}
	args, err := agentArgs(agent)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to encode agent", err.Error())
	}

	query := s.rebind(`INSERT INTO agents (` + agentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			token_id = excluded.token_id,
			agent_contract_address = excluded.agent_contract_address,
			name = excluded.name,
			description = excluded.description,
			image = excluded.image,
			category = excluded.category,
			price = excluded.price,
			price_wei = excluded.price_wei,
			current_owner = excluded.current_owner,
			tx_hash = excluded.tx_hash,
			storage_uri = excluded.storage_uri,
			listing_id = excluded.listing_id,
			active = excluded.active,
			social = excluded.social,
			capabilities = excluded.capabilities,
			compute_model = excluded.compute_model,
			views = excluded.views,
			likes = excluded.likes,
			trending = excluded.trending`)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save agent", err.Error())
	}
	return nil
}

func (s *sqlStore) queryOne(ctx context.Context, where string, args ...interface{}) (*models.UnifiedAgent, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}
	query := s.rebind(`SELECT ` + agentColumns + ` FROM agents WHERE ` + where + ` ORDER BY created_at DESC, id DESC LIMIT 1`)
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get agent", err.Error())
	}
	return agent, nil
}

// GetAgent retrieves an agent by id
func (s *sqlStore) GetAgent(ctx context.Context, id string) (*models.UnifiedAgent, error) {
	return s.queryOne(ctx, "id = ?", id)
}

// FindAgentByListing retrieves the agent carrying a listing id
func (s *sqlStore) FindAgentByListing(ctx context.Context, listingID uint64) (*models.UnifiedAgent, error) {
	return s.queryOne(ctx, "listing_id = ?", int64(listingID))
}

// FindAgentByToken retrieves the agent minted as (contract, tokenID)
func (s *sqlStore) FindAgentByToken(ctx context.Context, contract, tokenID string) (*models.UnifiedAgent, error) {
	return s.queryOne(ctx, "agent_contract_address = ? AND token_id = ?", utils.NormalizeAddress(contract), tokenID)
}

// ListAgents returns the agents matching filter, newest first
func (s *sqlStore) ListAgents(ctx context.Context, filter models.AgentFilter) ([]*models.UnifiedAgent, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	f := filter.Normalized()
	var conditions []string
	var args []interface{}

	if f.Creator != "" {
		conditions = append(conditions, "LOWER(creator) = ?")
		args = append(args, f.Creator)
	}
	if f.Owner != "" {
		conditions = append(conditions, "LOWER(current_owner) = ?")
		args = append(args, f.Owner)
	}
	if f.Active != nil {
		conditions = append(conditions, "active = ?")
		args = append(args, *f.Active)
	}
	if f.Category != "" {
		conditions = append(conditions, "LOWER(category) = ?")
		args = append(args, f.Category)
	}

	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query agents", err.Error())
	}
	defer rows.Close()

	agents := make([]*models.UnifiedAgent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan agent", err.Error())
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to iterate agents", err.Error())
	}
	return agents, nil
}

// SaveSagaProgress upserts the current step of a saga
func (s *sqlStore) SaveSagaProgress(ctx context.Context, p *models.SagaProgress) error {
	if err := s.connected(); err != nil {
		return err
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = nowFunc()
	}

	query := s.rebind(`INSERT INTO saga_progress (saga_id, kind, step, status, agent_id, tx_hash, detail, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (saga_id) DO UPDATE SET
			step = excluded.step,
			status = excluded.status,
			agent_id = excluded.agent_id,
			tx_hash = excluded.tx_hash,
			detail = excluded.detail,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query,
		p.SagaID, p.Kind, p.Step, string(p.Status), p.AgentID, p.TxHash, p.Detail, formatTime(updatedAt))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save saga progress", err.Error())
	}
	return nil
}

// GetSagaProgress returns the saga's last recorded step, or nil
func (s *sqlStore) GetSagaProgress(ctx context.Context, sagaID string) (*models.SagaProgress, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}

	var (
		p         models.SagaProgress
		status    string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT saga_id, kind, step, status, agent_id, tx_hash, detail, updated_at FROM saga_progress WHERE saga_id = ?"),
		sagaID).Scan(&p.SagaID, &p.Kind, &p.Step, &status, &p.AgentID, &p.TxHash, &p.Detail, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get saga progress", err.Error())
	}
	p.Status = models.SagaStatus(status)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// GetLatestProcessedBlock returns the latest processed block number
func (s *sqlStore) GetLatestProcessedBlock(ctx context.Context) (uint64, error) {
	if err := s.connected(); err != nil {
		return 0, err
	}
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT value FROM sync_state WHERE key = ?"), latestBlockKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest processed block", err.Error())
	}
	block, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt latest processed block", value)
	}
	return block, nil
}

// SetLatestProcessedBlock sets the latest processed block number
func (s *sqlStore) SetLatestProcessedBlock(ctx context.Context, blockNumber uint64) error {
	if err := s.connected(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		latestBlockKey, strconv.FormatUint(blockNumber, 10), formatTime(nowFunc()))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set latest processed block", err.Error())
	}
	return nil
}

// countStats fills the counters shared by both SQL backends.
func (s *sqlStore) countStats(ctx context.Context) (*StorageStats, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}
	stats := &StorageStats{Backend: s.backend}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM agents", &stats.TotalAgents},
		{"SELECT COUNT(*) FROM agents WHERE active = TRUE", &stats.ActiveAgents},
		{"SELECT COUNT(*) FROM agents WHERE listing_id = 0", &stats.UnknownListings},
		{"SELECT COUNT(*) FROM saga_progress WHERE status = 'flagged'", &stats.FlaggedSagas},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err.Error())
		}
	}

	latest, err := s.GetLatestProcessedBlock(ctx)
	if err != nil {
		return nil, err
	}
	stats.LatestBlock = latest
	return stats, nil
}
