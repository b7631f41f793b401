package migration

import (
	billinglinkdomain "github.com/smallbiznis/leakradar/internal/billinglink/domain"
	"github.com/smallbiznis/leakradar/internal/config"
	organizationdomain "github.com/smallbiznis/leakradar/internal/organization/domain"
	revenuedomain "github.com/smallbiznis/leakradar/internal/revenue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module applies migrations on start. Postgres runs the embedded SQL; the local
// sqlite and mysql setups fall back to AutoMigrate.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		return Apply(conn, cfg.DBType, log)
	}),
)

func Apply(conn *gorm.DB, dbType string, log *zap.Logger) error {
	if dbType != "postgres" {
		log.Info("migration.automigrate", zap.String("db_type", dbType))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&organizationdomain.Organization{},
		&billinglinkdomain.Link{},
		&revenuedomain.Snapshot{},
		&revenuedomain.Issue{},
	)
}
