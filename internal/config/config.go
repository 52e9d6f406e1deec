package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultMaxUploadSize   = 50 << 20 // 50 MB
	DefaultUploadTTL       = 10 * time.Minute
	DefaultPresenceTTL     = 5 * time.Minute
	DefaultOfflineDeadline = 5 * time.Second
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AmqpURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// MaxUploadSize caps the declared size of a file upload; the first
	// chunk of anything larger is rejected before accumulation begins.
	MaxUploadSize int64
	// UploadTTL is how long an incomplete upload transaction is kept
	// before it is garbage-collected.
	UploadTTL time.Duration
	// PresenceTTL is the expiry on presence records so orphaned entries
	// self-expire if disconnect cleanup never ran.
	PresenceTTL time.Duration
	// OfflineDeadline bounds the durable offline write on disconnect.
	OfflineDeadline time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:      serverAddr,
		DatabaseDSN:     databaseDSN,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		MaxUploadSize:   DefaultMaxUploadSize,
		UploadTTL:       DefaultUploadTTL,
		PresenceTTL:     DefaultPresenceTTL,
		OfflineDeadline: DefaultOfflineDeadline,
	}, nil
}
