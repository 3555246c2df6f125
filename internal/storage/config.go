package storage

import (
	"os"
	"strings"
)

// Mode selects the persistence backend
type Mode string

const (
	ModeNone     Mode = "none"
	ModeDynamo   Mode = "dynamo"
	ModePostgres Mode = "postgres"
	ModeSQLite   Mode = "sqlite"
)

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode           DynamoMode
	Endpoint       string // for local mode
	Region         string
	AttemptsTable  string
	CampaignsTable string
}

// Config selects and configures the store
type Config struct {
	Mode        Mode
	DatabaseURL string // postgres DSN or sqlite file path
	Dynamo      DynamoConfig
}

// LoadConfig loads store config from environment
func LoadConfig() Config {
	mode := Mode(strings.ToLower(getEnv("STORE_MODE", string(ModeNone))))
	switch mode {
	case ModeDynamo, ModePostgres, ModeSQLite:
	default:
		mode = ModeNone
	}

	dynamoMode := DynamoMode(getEnv("DYNAMO_MODE", string(DynamoModeLocal)))
	if dynamoMode != DynamoModeAWS {
		dynamoMode = DynamoModeLocal
	}

	return Config{
		Mode:        mode,
		DatabaseURL: getEnv("DATABASE_URL", "monti-dialer.db"),
		Dynamo: DynamoConfig{
			Mode:           dynamoMode,
			Endpoint:       getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
			Region:         getEnv("DYNAMO_REGION", "eu-central-1"),
			AttemptsTable:  getEnv("DYNAMO_ATTEMPTS_TABLE", "monti-dialer-attempts"),
			CampaignsTable: getEnv("DYNAMO_CAMPAIGNS_TABLE", "monti-dialer-campaigns"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
