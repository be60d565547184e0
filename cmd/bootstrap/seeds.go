package bootstrap

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/conversation"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed scripts/fibonacci.yaml
var fibonacciScript []byte

type SeedService struct {
	db *gorm.DB
}

func NewSeedService(db *gorm.DB) *SeedService {
	return &SeedService{db: db}
}

func (s *SeedService) SeedAll() error {
	if err := s.seedConversationScripts(); err != nil {
		return err
	}
	if err := s.seedContacts(); err != nil {
		return err
	}
	return nil
}

// seedConversationScripts 初始化示例对话脚本
func (s *SeedService) seedConversationScripts() error {
	model, err := conversation.Parse(fibonacciScript)
	if err != nil {
		return fmt.Errorf("demo script: %w", err)
	}
	_, err = models.GetConversationScriptByTitle(s.db, model.Title)
	if err == nil {
		logger.Info("Demo conversation already exists, skipping seed", zap.String("title", model.Title))
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check existing script: %w", err)
	}
	script := &models.ConversationScript{
		Title:  model.Title,
		File:   "fibonacci.yaml",
		Source: string(fibonacciScript),
	}
	if err := models.SaveConversationScript(s.db, script); err != nil {
		return fmt.Errorf("failed to create demo script: %w", err)
	}
	logger.Info("Demo conversation seeded", zap.String("title", model.Title))
	return nil
}

// seedContacts 初始化示例联系人
func (s *SeedService) seedContacts() error {
	var count int64
	if err := s.db.Model(&models.Contact{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	contacts := []models.Contact{
		{Name: "Demo Contact", PhoneNumber: "+4915100000001", Address: "Berlin"},
		{Name: "Test Line", PhoneNumber: "+4915100000002"},
	}
	for i := range contacts {
		if err := models.CreateContact(s.db, &contacts[i]); err != nil {
			logger.Error("Failed to create demo contact",
				zap.String("phone", contacts[i].PhoneNumber),
				zap.Error(err))
		}
	}
	logger.Info("Demo contacts seeded", zap.Int("count", len(contacts)))
	return nil
}
