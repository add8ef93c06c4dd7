package storage

import "os"

// Mode selects the install store backend
type Mode string

const (
	ModeMemory Mode = "memory"
	ModeSQLite Mode = "sqlite"
	ModeDynamo Mode = "dynamo"
)

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode          DynamoMode
	Endpoint      string // for local mode
	Region        string
	InstallsTable string
}

// Config holds install store configuration
type Config struct {
	Mode       Mode
	SQLitePath string
	Dynamo     DynamoConfig
}

// LoadConfig loads store config from environment
func LoadConfig() Config {
	mode := Mode(getEnv("STORE_MODE", string(ModeMemory)))
	switch mode {
	case ModeSQLite, ModeDynamo:
	default:
		mode = ModeMemory
	}

	dynamoMode := DynamoModeAWS
	if os.Getenv("DYNAMO_LOCAL") == "true" {
		dynamoMode = DynamoModeLocal
	}

	return Config{
		Mode:       mode,
		SQLitePath: getEnv("SQLITE_PATH", "./wallboard.db"),
		Dynamo: DynamoConfig{
			Mode:          dynamoMode,
			Endpoint:      getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
			Region:        getEnv("DYNAMO_REGION", "eu-central-1"),
			InstallsTable: getEnv("DYNAMO_INSTALLS_TABLE", "wallboard-installs"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
