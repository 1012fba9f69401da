package config

import (
	"encoding/base64"
	"fmt"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
}

func decodeSigningKey(base64Key string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Key)
}

func NewConfig(serverAddr, databaseDSN, base64Key string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Key == "" {
		return nil, fmt.Errorf("signing key cannot be empty")
	}

	signingKey, err := decodeSigningKey(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}
