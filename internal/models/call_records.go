package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/LingByte/LingCall/pkg/constants"
	"gorm.io/gorm"
)

type CallStatus string

const (
	CallStatusDialing  CallStatus = "dialing"  // 呼叫中
	CallStatusRinging  CallStatus = "ringing"  // 响铃中
	CallStatusAnswered CallStatus = "answered" // 已接通
	CallStatusRejected CallStatus = "rejected" // 被拒绝/忙线
	CallStatusFailed   CallStatus = "failed"   // 失败
	CallStatusEnded    CallStatus = "ended"    // 已结束
)

// CallDirection 通话方向
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"  // 呼入
	CallDirectionOutbound CallDirection = "outbound" // 呼出
)

// TranscriptEntry 对话记录条目
type TranscriptEntry struct {
	Role      string    `json:"role"` // assistant / user
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript 对话记录
type Transcript []TranscriptEntry

// Value 实现 driver.Valuer 接口
func (t Transcript) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return json.Marshal(t)
}

// Scan 实现 sql.Scanner 接口
func (t *Transcript) Scan(value interface{}) error {
	if value == nil {
		*t = make(Transcript, 0)
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*t = make(Transcript, 0)
		return nil
	}
	return json.Unmarshal(bytes, t)
}

// Information 提取到的信息 title -> value
type Information map[string]string

// Value 实现 driver.Valuer 接口
func (i Information) Value() (driver.Value, error) {
	if len(i) == 0 {
		return nil, nil
	}
	return json.Marshal(i)
}

// Scan 实现 sql.Scanner 接口
func (i *Information) Scan(value interface{}) error {
	if value == nil {
		*i = Information{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*i = Information{}
		return nil
	}
	return json.Unmarshal(bytes, i)
}

// CallRecord 通话记录表
type CallRecord struct {
	ID            uint          `json:"id" gorm:"primaryKey"`
	CreatedAt     time.Time     `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt     time.Time     `json:"updatedAt" gorm:"autoUpdateTime"`
	CallID        string        `json:"callId" gorm:"size:128;uniqueIndex;not null"` // SIP Call-ID or session id
	Line          int           `json:"line" gorm:"index"`                           // 线路编号
	Direction     CallDirection `json:"direction" gorm:"size:20;index"`
	Status        CallStatus    `json:"status" gorm:"size:20;index"`
	Caller        string        `json:"caller,omitempty" gorm:"size:128"`
	Callee        string        `json:"callee,omitempty" gorm:"size:128"`
	RemoteRTPAddr string        `json:"remoteRtpAddr,omitempty" gorm:"size:128"`
	Conversation  string        `json:"conversation,omitempty" gorm:"size:128;index"` // conversation title
	ContactID     *uint         `json:"contactId,omitempty" gorm:"index"`
	Outcome       string        `json:"outcome,omitempty" gorm:"size:32"` // completed / aborted / failed
	FailureKind   string        `json:"failureKind,omitempty" gorm:"size:32"`
	StartTime     time.Time     `json:"startTime"`
	AnswerTime    *time.Time    `json:"answerTime,omitempty"`
	EndTime       *time.Time    `json:"endTime,omitempty"`
	Duration      int           `json:"duration" gorm:"default:0"` // 通话时长（秒）
	ErrorMessage  string        `json:"errorMessage,omitempty" gorm:"size:500"`
	Transcript    Transcript    `json:"transcript,omitempty" gorm:"type:text"`
	Information   Information   `json:"information,omitempty" gorm:"type:text"`
}

// TableName get tables
func (CallRecord) TableName() string {
	return constants.TABLE_CALL_RECORDS
}

// MarkEnded 设置结束时间并计算通话时长
func (c *CallRecord) MarkEnded(at time.Time) {
	c.Status = CallStatusEnded
	c.EndTime = &at
	if c.AnswerTime != nil {
		c.Duration = int(at.Sub(*c.AnswerTime).Seconds())
	}
}

// CreateCallRecord 创建通话记录
func CreateCallRecord(db *gorm.DB, record *CallRecord) error {
	return db.Create(record).Error
}

// GetCallRecordByCallID 根据CallID获取通话记录
func GetCallRecordByCallID(db *gorm.DB, callID string) (*CallRecord, error) {
	var record CallRecord
	if err := db.Where("call_id = ?", callID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateCallRecord 更新通话记录
func UpdateCallRecord(db *gorm.DB, record *CallRecord) error {
	return db.Save(record).Error
}

// ListCallRecords 获取最近的通话记录
func ListCallRecords(db *gorm.DB, limit int) ([]CallRecord, error) {
	var records []CallRecord
	query := db.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}

// GetCallRecordsByStatus 根据状态获取通话记录列表
func GetCallRecordsByStatus(db *gorm.DB, status CallStatus, limit int) ([]CallRecord, error) {
	var records []CallRecord
	query := db.Where("status = ?", status).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&records).Error
	return records, err
}
