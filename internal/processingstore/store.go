// Package processingstore is the exclusive owner of every record keyed by
// token_id: TokenizedPatient, MedicalImage, LPPDetection, MedicalDecision,
// Session mirrors, AuditEntry, and the Input Queue and Task Queue tables. No
// column here holds a natural-person identifier; only the tokenization
// service is permitted to hold a live reference to this package alongside
// hospitalstore.
package processingstore

import (
	stdsql "database/sql"
	"embed"
	"fmt"

	"github.com/AutonomosCdM/vigia-sub003/internal/config"
	"github.com/AutonomosCdM/vigia-sub003/internal/storeconn"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the Processing Store's database handle. It never shares its
// *sql.DB with the Hospital Store.
type Store struct {
	db *stdsql.DB
}

// Open connects to the Processing Store and applies pending migrations.
func Open(cfg config.StoreConfig) (*Store, error) {
	db, err := storeconn.Open(cfg, migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening processing store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle, for health checks only.
func (s *Store) DB() *stdsql.DB {
	return s.db
}
