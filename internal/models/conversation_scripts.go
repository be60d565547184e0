package models

import (
	"errors"
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"gorm.io/gorm"
)

// ConversationScript 对话脚本表，保存 YAML 原文
type ConversationScript struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
	Title     string    `json:"title" gorm:"size:128;not null;uniqueIndex"`
	File      string    `json:"file,omitempty" gorm:"size:256"`
	Source    string    `json:"source" gorm:"type:text"`
}

// TableName get tables
func (ConversationScript) TableName() string {
	return constants.TABLE_CONVERSATION_SCRIPTS
}

// SaveConversationScript 按标题新建或更新脚本
func SaveConversationScript(db *gorm.DB, script *ConversationScript) error {
	existing, err := GetConversationScriptByTitle(db, script.Title)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(script).Error
	}
	if err != nil {
		return err
	}
	existing.Source = script.Source
	existing.File = script.File
	if err := db.Save(existing).Error; err != nil {
		return err
	}
	*script = *existing
	return nil
}

// GetConversationScriptByTitle 根据标题获取脚本
func GetConversationScriptByTitle(db *gorm.DB, title string) (*ConversationScript, error) {
	var script ConversationScript
	if err := db.Where("title = ?", title).First(&script).Error; err != nil {
		return nil, err
	}
	return &script, nil
}

// ListConversationScripts 获取全部脚本
func ListConversationScripts(db *gorm.DB) ([]ConversationScript, error) {
	var scripts []ConversationScript
	err := db.Order("title ASC").Find(&scripts).Error
	return scripts, err
}

// DeleteConversationScript 删除脚本
func DeleteConversationScript(db *gorm.DB, id uint) error {
	return db.Delete(&ConversationScript{}, id).Error
}

// AllModels 自动迁移使用的模型列表
func AllModels() []interface{} {
	return []interface{}{
		&Contact{},
		&CallRecord{},
		&ConversationResult{},
		&ConversationStatus{},
		&ConversationScript{},
		&TelephonyIdentity{},
	}
}
