package pkgcache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// entry is the SQLite-backed record of one extracted package: its content
// digest, where it was extracted, and bookkeeping used for cache pruning.
type entry struct {
	Digest        string `gorm:"type:text;primary_key"`
	Name          string `gorm:"index"`
	ExtractedPath string
	SizeBytes     int64
	LastUsedAt    time.Time
}

// index is the package cache's local SQLite database, mapping content
// digests to extracted directories.
type index struct {
	db *gorm.DB
}

// openIndex opens (creating if needed) the index database rooted at
// cacheDir/cache.db, migrating the schema on first use.
func openIndex(cacheDir string) (*index, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("pkgcache: creating cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, "cache.db")
	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("pkgcache: opening index database: %w", err)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("pkgcache: migrating index schema: %w", err)
	}

	return &index{db: db}, nil
}

func (x *index) lookup(digest string) (entry, bool, error) {
	var e entry
	err := x.db.First(&e, "digest = ?", digest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return entry{}, false, nil
		}
		return entry{}, false, fmt.Errorf("pkgcache: looking up %s: %w", digest, err)
	}
	return e, true, nil
}

func (x *index) touch(digest string) error {
	return x.db.Model(&entry{}).Where("digest = ?", digest).Update("last_used_at", time.Now()).Error
}

func (x *index) upsert(e entry) error {
	return x.db.Save(&e).Error
}

func (x *index) delete(digest string) error {
	return x.db.Delete(&entry{}, "digest = ?", digest).Error
}

func (x *index) all() ([]entry, error) {
	var entries []entry
	if err := x.db.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("pkgcache: listing index: %w", err)
	}
	return entries, nil
}

func (x *index) close() error {
	sqlDB, err := x.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
