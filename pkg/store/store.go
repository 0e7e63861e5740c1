package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clusterfs/fleetmgmtd/pkg/config"
)

// Store is the top-level persistent store: a GORM connection plus the
// dedicated-writer Engine every other package's transactions flow
// through. The sub-files of this package (entity.go, nodes.go, ...) hold
// free functions over a *gorm.DB transaction, grouped by the spec's
// topology/entity/quota/config operations, mirroring how the teacher
// splits GORMStore's behavior across store/*.go by concern.
type Store struct {
	db     *gorm.DB
	Engine *Engine
}

// Open connects to the configured backend, runs AutoMigrate, seeds the
// fixed rows every fresh installation needs (default pool, root inode
// placeholder), and starts the dedicated writer goroutine.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case config.DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// journal_mode=DELETE and synchronous=FULL, per the original's
		// setup_connection: single-writer embedded store, not the
		// WAL-for-concurrent-readers configuration a multi-reader
		// service would want.
		dsn := cfg.SQLitePath + "?_pragma=journal_mode(DELETE)&_pragma=synchronous(FULL)&_pragma=foreign_keys(ON)"
		dialector = sqlite.Open(dsn)
	case config.DatabaseTypePostgres:
		dialector = postgres.Open(dsnFromConfig(cfg))
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if cfg.Type == config.DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying db handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{db: db, Engine: NewEngine(db)}
	if err := s.seedDefaults(); err != nil {
		return nil, fmt.Errorf("seeding defaults: %w", err)
	}
	return s, nil
}

func dsnFromConfig(c config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// seedDefaults inserts rows that must exist in a fresh database: pool 1
// (the undeletable default pool) and a placeholder root_inode row.
func (s *Store) seedDefaults() error {
	var pool StoragePool
	err := s.db.Where("pool_id = ?", DefaultPoolID).First(&pool).Error
	if err == gorm.ErrRecordNotFound {
		if txErr := s.db.Transaction(func(tx *gorm.DB) error {
			ent := Entity{Kind: EntityPool, Alias: "default"}
			if err := tx.Create(&ent).Error; err != nil {
				return err
			}
			return tx.Create(&StoragePool{PoolUID: ent.UID, PoolID: DefaultPoolID}).Error
		}); txErr != nil {
			return txErr
		}
	} else if err != nil {
		return err
	}

	var root RootInode
	err = s.db.First(&root, "id = ?", 1).Error
	if err == gorm.ErrRecordNotFound {
		zero := uint16(0)
		if err := s.db.Create(&RootInode{ID: 1, TargetID: &zero}).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return nil
}

// Close stops the dedicated writer goroutine and closes the connection.
func (s *Store) Close() error {
	s.Engine.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Healthcheck verifies the connection is alive, the way the teacher's
// store.Healthcheck does for liveness probes.
func (s *Store) Healthcheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, "UNIQUE constraint failed", "duplicate key value violates unique constraint")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
