package database

import (
	"errors"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var ErrNotFound = errors.New("not found")

// Database is the metadata store. Writes are serialized through Lock since
// SQLite allows a single writer.
type Database struct {
	Lock   sync.Mutex
	Cli    *gorm.DB
	Logger zerolog.Logger
}

// Open opens (creating when missing) the SQLite database at path and
// migrates the schema.
func Open(path string, logger zerolog.Logger) (*Database, error) {
	dsn := path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	cli, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewLogger(logger),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := cli.AutoMigrate(&Repo{}, &Package{}, &FileRecord{}, &SyncTask{}); err != nil {
		return nil, err
	}

	return &Database{
		Cli:    cli,
		Logger: logger,
	}, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.Cli.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
