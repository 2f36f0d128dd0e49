package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/estate-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createCampaignRecipientsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_campaign_recipients",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Table(repository.TableCampaignRecipients).AutoMigrate(&repository.DispatchItemModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_campaign_status ON campaign_recipients (campaign_id, status)`,
				`ALTER TABLE campaign_recipients DROP CONSTRAINT IF EXISTS fk_campaign_recipients_campaign`,
				`ALTER TABLE campaign_recipients ADD CONSTRAINT fk_campaign_recipients_campaign FOREIGN KEY (campaign_id) REFERENCES sms_campaigns (id) ON DELETE CASCADE`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(repository.TableCampaignRecipients)
		},
	}
}
