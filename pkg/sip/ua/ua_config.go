package ua

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/bytedance/sonic"
	"github.com/emiago/sipgo/sip"
	"gorm.io/gorm"
)

const (
	DEFAULT_USER_AGENT       = "LingCall"
	DEFAULT_REGISTER_EXPIRES = 3600
	DEFAULT_RTP_PORT_COUNT   = 200
)

// StorageType define storage type
type StorageType string

const (
	StorageTypeFile     StorageType = "file"     // storage by file
	StorageTypeMemory   StorageType = "memory"   // storage by memory
	StorageTypeDatabase StorageType = "database" // storage by database
)

// UAConfig represents the configuration for a User Agent
type UAConfig struct {
	Host               string        // sip listen host address
	Port               int           // sip listen port
	UserAgentName      string        // represent client user agent name
	LocalRTPPort       int           // first local RTP port
	RTPPortCount       int           // RTP ports available from LocalRTPPort
	RegisterExpires    int           // seconds requested in REGISTER
	RegisterTimeout    time.Duration // register timeout
	TransactionTimeout time.Duration // transaction timeout
	MaxForwards        int           // max forwards times
	StorageType        StorageType   // call record storage type
	StoragePath        string        // storage path for file
	Db                 *gorm.DB
	MemoryCalls        map[string]*models.CallRecord // Call-ID -> CallRecord (for memory storage)
	memoryCallsMutex   sync.RWMutex                  // Protects concurrent access to MemoryCalls
	fileMutex          sync.Mutex
}

// DefaultUAConfig return default ua config
func DefaultUAConfig() *UAConfig {
	return &UAConfig{
		Host:               "0.0.0.0",
		Port:               5060,
		UserAgentName:      DEFAULT_USER_AGENT,
		LocalRTPPort:       10000, // Default RPT Port
		RTPPortCount:       DEFAULT_RTP_PORT_COUNT,
		RegisterExpires:    DEFAULT_REGISTER_EXPIRES,
		RegisterTimeout:    30 * time.Second,
		TransactionTimeout: 30 * time.Second,
		MaxForwards:        70,
		StorageType:        StorageTypeMemory,
		StoragePath:        "./sip_data",
		MemoryCalls:        make(map[string]*models.CallRecord),
	}
}

// ApplyDefaults applies default values to current config
func (c *UAConfig) ApplyDefaults() {
	defaultConfig := DefaultUAConfig()

	if c.Host == "" {
		c.Host = defaultConfig.Host
	}

	if c.Port == 0 {
		c.Port = defaultConfig.Port
	}

	if c.UserAgentName == "" {
		c.UserAgentName = defaultConfig.UserAgentName
	}

	if c.LocalRTPPort == 0 {
		c.LocalRTPPort = defaultConfig.LocalRTPPort
	}

	if c.RTPPortCount == 0 {
		c.RTPPortCount = defaultConfig.RTPPortCount
	}

	if c.RegisterExpires == 0 {
		c.RegisterExpires = defaultConfig.RegisterExpires
	}

	if c.RegisterTimeout == 0 {
		c.RegisterTimeout = defaultConfig.RegisterTimeout
	}

	if c.TransactionTimeout == 0 {
		c.TransactionTimeout = defaultConfig.TransactionTimeout
	}

	if c.MaxForwards == 0 {
		c.MaxForwards = defaultConfig.MaxForwards
	}

	if c.StorageType == "" {
		c.StorageType = defaultConfig.StorageType
	}

	if c.StoragePath == "" {
		c.StoragePath = defaultConfig.StoragePath
	}

	// Initialize memoryCalls map if not initialized
	if c.MemoryCalls == nil {
		c.MemoryCalls = make(map[string]*models.CallRecord)
	}
}

// GetSIPAddress returns the SIP listen address
func (c *UAConfig) GetSIPAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GetRTPAddress returns the first RTP address
func (c *UAConfig) GetRTPAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.LocalRTPPort))
}

// SetDBConfig set db config
func (c *UAConfig) SetDBConfig(db *gorm.DB) {
	c.Db = db
}

// ConfigError Config Error Type
type ConfigError struct {
	Field   string      // error field
	Value   interface{} // error value
	Message string      // error message
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("Config Error [%s = %v]: %s", e.Field, e.Value, e.Message)
}

// Validate validates the configuration
func (c *UAConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &ConfigError{Field: "Port", Value: c.Port, Message: "Port must be between 1-65535"}
	}

	if c.LocalRTPPort < 0 || c.LocalRTPPort > 65535 {
		return &ConfigError{Field: "LocalRTPPort", Value: c.LocalRTPPort, Message: "RTP Port must be between 0-65535"}
	}

	if c.TransactionTimeout <= 0 {
		return &ConfigError{Field: "TransactionTimeout", Value: c.TransactionTimeout, Message: "Transaction timeout must be greater than 0"}
	}

	if c.MaxForwards <= 0 {
		return &ConfigError{Field: "MaxForwards", Value: c.MaxForwards, Message: "Max forwards must be greater than 0"}
	}

	switch c.StorageType {
	case StorageTypeMemory, StorageTypeFile, StorageTypeDatabase:
	default:
		return &ConfigError{Field: "StorageType", Value: c.StorageType, Message: "Storage type must be memory, file or database"}
	}

	return nil
}

// Identity 电话身份 (SIP 账号)
type Identity struct {
	IDURI        string `json:"id_uri"`
	RegistrarURI string `json:"registrar_uri"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// LoadIdentity reads a JSON identity file.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	var id Identity
	if err := sonic.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return &id, nil
}

// IdentityFromModel 从数据库记录构造身份
func IdentityFromModel(m *models.TelephonyIdentity) *Identity {
	return &Identity{
		IDURI:        m.IDURI,
		RegistrarURI: m.RegistrarURI,
		Username:     m.Username,
		Password:     m.Password,
	}
}

// Validate checks that both URIs parse as SIP URIs.
func (i *Identity) Validate() error {
	if _, err := i.URI(); err != nil {
		return &ConfigError{Field: "id_uri", Value: i.IDURI, Message: err.Error()}
	}
	if i.RegistrarURI != "" {
		if _, err := i.Registrar(); err != nil {
			return &ConfigError{Field: "registrar_uri", Value: i.RegistrarURI, Message: err.Error()}
		}
	}
	return nil
}

// URI returns the parsed address of record.
func (i *Identity) URI() (sip.Uri, error) {
	return parseURI(i.IDURI)
}

// Registrar returns the parsed registrar URI.
func (i *Identity) Registrar() (sip.Uri, error) {
	return parseURI(i.RegistrarURI)
}

// Domain is the host calls are routed through: the registrar when set,
// otherwise the identity's own domain.
func (i *Identity) Domain() (sip.Uri, error) {
	if i.RegistrarURI != "" {
		return i.Registrar()
	}
	return i.URI()
}

func parseURI(raw string) (sip.Uri, error) {
	var uri sip.Uri
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uri, fmt.Errorf("empty uri")
	}
	if !strings.HasPrefix(raw, "sip:") && !strings.HasPrefix(raw, "sips:") {
		raw = "sip:" + raw
	}
	if err := sip.ParseUri(raw, &uri); err != nil {
		return uri, fmt.Errorf("invalid uri %q: %w", raw, err)
	}
	if uri.Host == "" {
		return uri, fmt.Errorf("uri %q has no host", raw)
	}
	return uri, nil
}
