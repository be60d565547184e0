package bootstrap

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/logger"
	puresqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options database setup options
type Options struct {
	InitSQLPath string // optional .sql script run after connecting
	AutoMigrate bool   // migrate every model
	SeedNonProd bool   // seed demo data outside production
}

// OpenDatabase opens a gorm connection for driver. sqlite uses the cgo
// driver, "sqlite-pure" the pure Go one.
func OpenDatabase(driver, dsn string, out io.Writer) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql", "pg":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "sqlite-pure", "glebarez":
		dialector = puresqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	level := gormlogger.Warn
	if config.GlobalConfig != nil && config.GlobalConfig.Server.Mode == "development" {
		level = gormlogger.Info
	}
	if out == nil {
		out = os.Stdout
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(log.New(out, "\r\n", log.LstdFlags), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return db, nil
}

// SetupDatabase connects with the global configuration and prepares the schema.
func SetupDatabase(out io.Writer, opts *Options) (*gorm.DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	cfg := config.GlobalConfig.Database
	db, err := OpenDatabase(cfg.Driver, cfg.DSN, out)
	if err != nil {
		return nil, err
	}

	if opts.InitSQLPath != "" {
		if err := runSQLFile(db, opts.InitSQLPath); err != nil {
			return nil, err
		}
	}

	if opts.AutoMigrate {
		if err := db.AutoMigrate(models.AllModels()...); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info("database ready",
		zap.String("driver", cfg.Driver),
		zap.Bool("migrated", opts.AutoMigrate))

	if opts.SeedNonProd && config.GlobalConfig.Server.Mode != "production" {
		seeds := &SeedService{db: db}
		if err := seeds.SeedAll(); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	return db, nil
}

// runSQLFile executes the ';' separated statements of path.
func runSQLFile(db *gorm.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read init sql: %w", err)
	}
	count := 0
	for _, stmt := range strings.Split(string(data), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || strings.HasPrefix(stmt, "--") {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("init sql statement %d: %w", count+1, err)
		}
		count++
	}
	logger.Info("init sql executed", zap.String("file", path), zap.Int("statements", count))
	return nil
}
