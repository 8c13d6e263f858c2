// Package store persists the run journal.
// The reconciler never reads it back; it exists for audit and the status API.
package store

import (
	"fmt"
	"sync"

	"envgrid/logger"
)

// Store unified data storage
type Store struct {
	driver *DBDriver

	// Sub-stores (lazy initialization)
	journal *JournalStore

	mu sync.Mutex
}

// New opens the database and creates the journal tables.
func New(cfg DBConfig) (*Store, error) {
	driver, err := NewDBDriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s, err := NewFromDriver(driver)
	if err != nil {
		driver.Close()
		return nil, err
	}
	logger.Infof("✅ Database initialized (type: %s)", driver.Type)
	return s, nil
}

// NewFromDriver creates a Store on an open driver and initializes tables.
func NewFromDriver(driver *DBDriver) (*Store, error) {
	s := &Store{driver: driver}
	if err := s.Journal().InitTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize journal tables: %w", err)
	}
	return s, nil
}

// Journal gets the run journal
func (s *Store) Journal() *JournalStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		s.journal = &JournalStore{driver: s.driver}
	}
	return s.journal
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.driver.Close()
}
