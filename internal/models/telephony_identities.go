package models

import (
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"gorm.io/gorm"
)

// TelephonyIdentity SIP 账号，文件缺失时从数据库读取
type TelephonyIdentity struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
	Name         string    `json:"name" gorm:"size:64;uniqueIndex;not null"`
	IDURI        string    `json:"idUri" gorm:"column:id_uri;size:256;not null"`
	RegistrarURI string    `json:"registrarUri" gorm:"size:256"`
	Username     string    `json:"username" gorm:"size:128"`
	Password     string    `json:"-" gorm:"size:128"`
	IsDefault    bool      `json:"isDefault" gorm:"default:false"`
}

// TableName get tables
func (TelephonyIdentity) TableName() string {
	return constants.TABLE_TELEPHONY_IDENTITIES
}

// SaveTelephonyIdentity 新建或更新
func SaveTelephonyIdentity(db *gorm.DB, identity *TelephonyIdentity) error {
	return db.Save(identity).Error
}

// GetDefaultTelephonyIdentity 返回默认身份，没有默认时返回最早创建的一条
func GetDefaultTelephonyIdentity(db *gorm.DB) (*TelephonyIdentity, error) {
	var identity TelephonyIdentity
	if err := db.Order("is_default DESC").Order("id ASC").First(&identity).Error; err != nil {
		return nil, err
	}
	return &identity, nil
}
