package repository

import (
	"context"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	"gorm.io/gorm"
)

type directory struct {
	db *gorm.DB
}

// NewDirectory reads tenant administrators from the tenant_admins table the
// tenant service maintains.
func NewDirectory(db *gorm.DB) notificationdomain.Directory {
	return &directory{db: db}
}

func (d *directory) ListAdmins(ctx context.Context, tenantID string) ([]notificationdomain.TenantAdmin, error) {
	var admins []notificationdomain.TenantAdmin
	err := d.db.WithContext(ctx).Raw(
		`SELECT tenant_id, user_id, email, name FROM tenant_admins
		 WHERE tenant_id = ?
		 ORDER BY user_id ASC`,
		tenantID,
	).Scan(&admins).Error
	if err != nil {
		return nil, err
	}
	return admins, nil
}
