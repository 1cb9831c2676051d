package storage

import (
	"context"

	"github.com/smartdevs17/inft-marketplace/pkg/utils"
)

// GetStorageStats returns agent, saga and sync counters plus the database size
func (s *SQLiteStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats, err := s.countStats(ctx)
	if err != nil {
		return nil, err
	}

	// Database size (SQLite specific)
	if err := s.db.QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&stats.DatabaseSize); err != nil {
		stats.DatabaseSize = 0
	}
	return stats, nil
}

// Vacuum compacts the database file
func (s *SQLiteStorage) Vacuum() error {
	if err := s.connected(); err != nil {
		return err
	}
	s.logger.Info("Starting database vacuum")

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to vacuum database", err.Error())
	}

	s.logger.Info("Database vacuum completed")
	return nil
}

// GetDatabaseInfo reports SQLite engine details
func (s *SQLiteStorage) GetDatabaseInfo() (map[string]interface{}, error) {
	if err := s.connected(); err != nil {
		return nil, err
	}
	info := make(map[string]interface{})

	var version string
	if err := s.db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read SQLite version", err.Error())
	}
	info["sqlite_version"] = version

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	info["file_size_bytes"] = pageCount * pageSize
	info["page_count"] = pageCount
	info["page_size"] = pageSize

	var journalMode string
	s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	info["journal_mode"] = journalMode

	return info, nil
}
