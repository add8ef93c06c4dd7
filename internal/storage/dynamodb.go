package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/monti/wallboard/internal/types"
	"github.com/rs/zerolog"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// LoadDefaultConfig probes the EC2 IMDS endpoint, which hangs when
		// static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Str("table", cfg.InstallsTable).
		Msg("DynamoDB install store initialized")

	return &DynamoDBStore{client: client, config: cfg, logger: logger}, nil
}

func (s *DynamoDBStore) SaveInstall(ctx context.Context, install types.Install) error {
	item, err := attributevalue.MarshalMap(install)
	if err != nil {
		return fmt.Errorf("failed to marshal install: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.InstallsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save install %s: %w", install.MemberID, err)
	}
	return nil
}

func (s *DynamoDBStore) GetInstall(ctx context.Context, memberID string) (types.Install, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.InstallsTable),
		Key: map[string]dbtypes.AttributeValue{
			"MemberID": &dbtypes.AttributeValueMemberS{Value: memberID},
		},
	})
	if err != nil {
		return types.Install{}, fmt.Errorf("failed to load install %s: %w", memberID, err)
	}
	if result.Item == nil {
		return types.Install{}, ErrNotFound
	}

	var install types.Install
	if err := attributevalue.UnmarshalMap(result.Item, &install); err != nil {
		return types.Install{}, fmt.Errorf("failed to unmarshal install: %w", err)
	}
	return install, nil
}

func (s *DynamoDBStore) ListInstalls(ctx context.Context) ([]types.Install, error) {
	proj := expression.NamesList(
		expression.Name("MemberID"),
		expression.Name("Domain"),
		expression.Name("ExpiresIn"),
		expression.Name("InstalledAt"),
	)
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var (
		installs []types.Install
		lastKey  map[string]dbtypes.AttributeValue
	)
	for {
		result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(s.config.InstallsTable),
			ProjectionExpression:     expr.Projection(),
			ExpressionAttributeNames: expr.Names(),
			ExclusiveStartKey:        lastKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan installs: %w", err)
		}

		var page []types.Install
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal installs: %w", err)
		}
		installs = append(installs, page...)

		lastKey = result.LastEvaluatedKey
		if len(lastKey) == 0 {
			break
		}
	}
	return installs, nil
}

func (s *DynamoDBStore) Close() error { return nil }
