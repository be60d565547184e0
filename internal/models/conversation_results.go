package models

import (
	"errors"
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationStatusValue 联系人在某个对话中的状态
type ConversationStatusValue string

const (
	ConversationNotReached ConversationStatusValue = "NOT_REACHED"
	ConversationCompleted  ConversationStatusValue = "COMPLETED"
	ConversationAborted    ConversationStatusValue = "ABORTED"
)

// IsFinal 已完成或已中止的联系人不再拨打
func (s ConversationStatusValue) IsFinal() bool {
	return s == ConversationCompleted || s == ConversationAborted
}

// ConversationResult 提取结果，一条记录对应一个信息项
type ConversationResult struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"createdAt" gorm:"autoCreateTime"`
	ContactID    uint      `json:"contactId" gorm:"not null;uniqueIndex:idx_result_key"`
	Conversation string    `json:"conversation" gorm:"size:128;not null;uniqueIndex:idx_result_key"`
	Title        string    `json:"title" gorm:"size:128;not null;uniqueIndex:idx_result_key"`
	Value        string    `json:"value" gorm:"type:text"`
}

// TableName get tables
func (ConversationResult) TableName() string {
	return constants.TABLE_CONVERSATION_RESULTS
}

// ConversationStatus 拨打状态
type ConversationStatus struct {
	ID           uint                    `json:"id" gorm:"primaryKey"`
	UpdatedAt    time.Time               `json:"updatedAt" gorm:"autoUpdateTime"`
	ContactID    uint                    `json:"contactId" gorm:"not null;uniqueIndex:idx_status_key"`
	Conversation string                  `json:"conversation" gorm:"size:128;not null;uniqueIndex:idx_status_key"`
	Attempts     int                     `json:"attempts" gorm:"default:0"`
	Status       ConversationStatusValue `json:"status" gorm:"size:20;index"`
}

// TableName get tables
func (ConversationStatus) TableName() string {
	return constants.TABLE_CONVERSATION_STATUSES
}

// GetConversationStatus 获取状态，不存在时返回 NOT_REACHED 的零值记录（未保存）
func GetConversationStatus(db *gorm.DB, contactID uint, conversation string) (*ConversationStatus, error) {
	var st ConversationStatus
	err := db.Where("contact_id = ? AND conversation = ?", contactID, conversation).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ConversationStatus{ContactID: contactID, Conversation: conversation, Status: ConversationNotReached}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RecordAttempt 记录一次拨打结果，attempts 加一
func RecordAttempt(db *gorm.DB, contactID uint, conversation string, status ConversationStatusValue) (*ConversationStatus, error) {
	var out *ConversationStatus
	err := db.Transaction(func(tx *gorm.DB) error {
		st, err := GetConversationStatus(tx, contactID, conversation)
		if err != nil {
			return err
		}
		st.Attempts++
		st.Status = status
		if err := tx.Save(st).Error; err != nil {
			return err
		}
		out = st
		return nil
	})
	return out, err
}

// SaveConversationResults 保存提取结果（覆盖同名信息项）
func SaveConversationResults(db *gorm.DB, contactID uint, conversation string, info map[string]string) error {
	if len(info) == 0 {
		return nil
	}
	rows := make([]ConversationResult, 0, len(info))
	for title, value := range info {
		rows = append(rows, ConversationResult{
			ContactID:    contactID,
			Conversation: conversation,
			Title:        title,
			Value:        value,
		})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contact_id"}, {Name: "conversation"}, {Name: "title"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&rows).Error
}

// GetConversationResults 获取联系人在某对话中的全部结果
func GetConversationResults(db *gorm.DB, contactID uint, conversation string) (map[string]string, error) {
	var rows []ConversationResult
	if err := db.Where("contact_id = ? AND conversation = ?", contactID, conversation).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Title] = r.Value
	}
	return out, nil
}
