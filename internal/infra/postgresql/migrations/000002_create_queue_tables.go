package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createQueueTables() *gormigrate.Migration {
	tables := []string{repository.TableSMSQueue, repository.TableReceiptQueue}

	return &gormigrate.Migration{
		ID: "000002_create_queue_tables",
		Migrate: func(tx *gorm.DB) error {
			for _, table := range tables {
				if err := tx.Table(table).AutoMigrate(&repository.DispatchItemModel{}); err != nil {
					return err
				}
				if err := execAll(tx, pendingIndexes(table)); err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			for _, table := range tables {
				if err := tx.Migrator().DropTable(table); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// pendingIndexes backs the creation-ordered pending scan and the 24h health window.
func pendingIndexes(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s (created_at, id) WHERE status = 'pending'`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_status ON %s (created_at, status)`, table, table),
	}
}
