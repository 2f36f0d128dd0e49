package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSMSCampaignsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_sms_campaigns",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CampaignModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_sms_campaigns_status ON sms_campaigns (status)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CampaignModel{})
		},
	}
}
