package models

import (
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"gorm.io/gorm"
)

// Contact 联系人
type Contact struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
	Name        string    `json:"name" gorm:"size:128;not null;uniqueIndex:idx_contact_name_phone"`
	PhoneNumber string    `json:"phoneNumber" gorm:"size:32;not null;uniqueIndex:idx_contact_name_phone"` // E.164
	Address     string    `json:"address,omitempty" gorm:"size:256"`
}

// TableName get tables
func (Contact) TableName() string {
	return constants.TABLE_CONTACTS
}

// CreateContact 创建联系人
func CreateContact(db *gorm.DB, contact *Contact) error {
	return db.Create(contact).Error
}

// GetContact 根据ID获取联系人
func GetContact(db *gorm.DB, id uint) (*Contact, error) {
	var contact Contact
	if err := db.First(&contact, id).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// GetContactByPhone 根据电话号码获取联系人
func GetContactByPhone(db *gorm.DB, phoneNumber string) (*Contact, error) {
	var contact Contact
	if err := db.Where("phone_number = ?", phoneNumber).First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// ListContacts 获取联系人列表；ids 为空时返回全部
func ListContacts(db *gorm.DB, ids []uint) ([]Contact, error) {
	var contacts []Contact
	query := db.Order("id ASC")
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	err := query.Find(&contacts).Error
	return contacts, err
}

// DeleteContact 删除联系人
func DeleteContact(db *gorm.DB, id uint) error {
	return db.Delete(&Contact{}, id).Error
}
