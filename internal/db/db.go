package db

import (
	"fmt"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Handle struct {
	DB   *gorm.DB
	Path string // set for sqlite only
}

// Open connects using the configured driver. An empty sqlite DSN falls
// back to a database file inside dir.
func Open(driver, dsn, dir string) (*Handle, error) {
	switch driver {
	case "", "sqlite":
		path := dsn
		if path == "" {
			path = filepath.Join(dir, "restockd.db")
		}
		gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return &Handle{DB: gdb, Path: path}, nil
	case "mysql":
		gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return &Handle{DB: gdb}, nil
	case "postgres":
		gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return &Handle{DB: gdb}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// OpenMemory returns an in-memory sqlite handle, used by tests.
func OpenMemory() (*Handle, error) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &Handle{DB: gdb, Path: ":memory:"}, nil
}
