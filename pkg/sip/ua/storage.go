package ua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
)

// ErrCallNotFound 通话记录不存在
var ErrCallNotFound = errors.New("call record not found")

// ==================== Call Storage ====================

// SaveCall saves a call record based on storage type
func (c *UAConfig) SaveCall(record *models.CallRecord) error {
	switch c.StorageType {
	case StorageTypeDatabase:
		return c.saveCallToDatabase(record)

	case StorageTypeFile:
		return c.saveCallToFile(record)

	case StorageTypeMemory:
		return c.saveCallToMemory(record)

	default:
		// Default to memory
		return c.saveCallToMemory(record)
	}
}

// GetCall gets a call record based on storage type
func (c *UAConfig) GetCall(callID string) (*models.CallRecord, bool) {
	switch c.StorageType {
	case StorageTypeDatabase:
		return c.getCallFromDatabase(callID)

	case StorageTypeFile:
		return c.getCallFromFile(callID)

	case StorageTypeMemory:
		return c.getCallFromMemory(callID)

	default:
		// Default to memory
		return c.getCallFromMemory(callID)
	}
}

// UpdateCall loads a record, applies update and saves it back.
func (c *UAConfig) UpdateCall(callID string, update func(record *models.CallRecord)) error {
	if c.StorageType == StorageTypeMemory || c.StorageType == "" || (c.StorageType == StorageTypeDatabase && c.Db == nil) {
		c.memoryCallsMutex.Lock()
		defer c.memoryCallsMutex.Unlock()
		record, exists := c.MemoryCalls[callID]
		if !exists {
			return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
		}
		update(record)
		return nil
	}

	if c.StorageType == StorageTypeFile {
		c.fileMutex.Lock()
		defer c.fileMutex.Unlock()
	}

	record, exists := c.GetCall(callID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	update(record)

	if c.StorageType == StorageTypeFile {
		return c.writeCallFile(record)
	}
	if err := models.UpdateCallRecord(c.Db, record); err != nil {
		logrus.WithError(err).WithField("call_id", callID).Error("Failed to update call record in database")
		return err
	}
	return nil
}

// ==================== Database Storage Implementation ====================

func (c *UAConfig) saveCallToDatabase(record *models.CallRecord) error {
	if c.Db == nil {
		// Fallback to memory if database not configured
		return c.saveCallToMemory(record)
	}
	if err := models.CreateCallRecord(c.Db, record); err != nil {
		return fmt.Errorf("failed to create call record in database: %w", err)
	}
	return nil
}

func (c *UAConfig) getCallFromDatabase(callID string) (*models.CallRecord, bool) {
	if c.Db == nil {
		// Fallback to memory
		return c.getCallFromMemory(callID)
	}
	record, err := models.GetCallRecordByCallID(c.Db, callID)
	if err != nil {
		return nil, false
	}
	return record, true
}

// ==================== File Storage Implementation ====================

func (c *UAConfig) callFilePath(callID string) string {
	return filepath.Join(c.StoragePath, "calls", fmt.Sprintf("%s.json", filepath.Base(callID)))
}

func (c *UAConfig) saveCallToFile(record *models.CallRecord) error {
	c.fileMutex.Lock()
	defer c.fileMutex.Unlock()
	return c.writeCallFile(record)
}

func (c *UAConfig) writeCallFile(record *models.CallRecord) error {
	// Create file path: storagePath/calls/callID.json
	callsDir := filepath.Join(c.StoragePath, "calls")
	if err := os.MkdirAll(callsDir, 0755); err != nil {
		return fmt.Errorf("failed to create calls directory: %w", err)
	}

	jsonData, err := sonic.ConfigStd.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal call data: %w", err)
	}

	if err := os.WriteFile(c.callFilePath(record.CallID), jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write call file: %w", err)
	}
	return nil
}

func (c *UAConfig) getCallFromFile(callID string) (*models.CallRecord, bool) {
	data, err := os.ReadFile(c.callFilePath(callID))
	if err != nil {
		return nil, false
	}
	var record models.CallRecord
	if err := sonic.Unmarshal(data, &record); err != nil {
		logrus.WithError(err).WithField("call_id", callID).Error("Failed to unmarshal call data")
		return nil, false
	}
	return &record, true
}

// ==================== Memory Storage Implementation ====================

func (c *UAConfig) saveCallToMemory(record *models.CallRecord) error {
	c.memoryCallsMutex.Lock()
	defer c.memoryCallsMutex.Unlock()
	if c.MemoryCalls == nil {
		c.MemoryCalls = make(map[string]*models.CallRecord)
	}
	callCopy := *record
	c.MemoryCalls[record.CallID] = &callCopy
	return nil
}

func (c *UAConfig) getCallFromMemory(callID string) (*models.CallRecord, bool) {
	c.memoryCallsMutex.RLock()
	defer c.memoryCallsMutex.RUnlock()
	record, exists := c.MemoryCalls[callID]
	if !exists {
		return nil, false
	}
	callCopy := *record
	return &callCopy, true
}
