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
	"github.com/dennisdiepolder/monti/dialer/internal/types"
	"github.com/rs/zerolog"
)

// campaignItem is the DynamoDB shape of a stored pacing config
type campaignItem struct {
	CampaignID         string  `dynamodbav:"CampaignID"`
	DialMethod         string  `dynamodbav:"DialMethod"`
	TargetRatio        float64 `dynamodbav:"TargetRatio"`
	MaxDropRatePercent float64 `dynamodbav:"MaxDropRatePercent"`
	MinHopperLevel     int     `dynamodbav:"MinHopperLevel"`
	MaxAttempts        int     `dynamodbav:"MaxAttempts"`
	RetryDelaySecs     int     `dynamodbav:"RetryDelaySecs"`
}

func toCampaignItem(campaignID string, cfg types.PacingConfig) campaignItem {
	return campaignItem{
		CampaignID:         campaignID,
		DialMethod:         string(cfg.DialMethod),
		TargetRatio:        cfg.TargetRatio,
		MaxDropRatePercent: cfg.MaxDropRatePercent,
		MinHopperLevel:     cfg.MinHopperLevel,
		MaxAttempts:        cfg.MaxAttempts,
		RetryDelaySecs:     cfg.RetryDelaySecs,
	}
}

func (c campaignItem) config() types.PacingConfig {
	return types.PacingConfig{
		DialMethod:         types.DialMethod(c.DialMethod),
		TargetRatio:        c.TargetRatio,
		MaxDropRatePercent: c.MaxDropRatePercent,
		MinHopperLevel:     c.MinHopperLevel,
		MaxAttempts:        c.MaxAttempts,
		RetryDelaySecs:     c.RetryDelaySecs,
	}
}

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
		// Build the client directly: LoadDefaultConfig queries the EC2 IMDS
		// endpoint, which hangs on EC2 hosts when static credentials are intended.
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

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "dynamo_store").Logger(),
	}

	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) SaveAttemptRecord(ctx context.Context, record types.AttemptRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.AttemptsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save attempt record: %w", err)
	}
	return nil
}

// GetAttemptRecords returns one day of attempts, optionally narrowed to a campaign
func (s *DynamoDBStore) GetAttemptRecords(ctx context.Context, campaignID, dateKey string) ([]types.AttemptRecord, error) {
	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key("DateKey").Equal(expression.Value(dateKey)))
	if campaignID != "" {
		builder = builder.WithFilter(expression.Name("CampaignID").Equal(expression.Value(campaignID)))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.AttemptsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if campaignID != "" {
		input.FilterExpression = expr.Filter()
	}

	var records []types.AttemptRecord
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query attempt records: %w", err)
		}
		var batch []types.AttemptRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt records: %w", err)
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (s *DynamoDBStore) SavePacingConfig(ctx context.Context, campaignID string, cfg types.PacingConfig) error {
	item, err := attributevalue.MarshalMap(toCampaignItem(campaignID, cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal pacing config: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.CampaignsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save pacing config: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) LoadPacingConfigs(ctx context.Context) (map[string]types.PacingConfig, error) {
	configs := make(map[string]types.PacingConfig)
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.config.CampaignsTable),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pacing configs: %w", err)
		}
		var items []campaignItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pacing configs: %w", err)
		}
		for _, item := range items {
			configs[item.CampaignID] = item.config()
		}
	}
	return configs, nil
}

// TruncateAll deletes all items from both tables (scan + batch delete)
func (s *DynamoDBStore) TruncateAll(ctx context.Context) error {
	for _, table := range dynamoTables(s.config) {
		if err := s.truncateTable(ctx, table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table.name, err)
		}
	}
	return nil
}

func (s *DynamoDBStore) Close() error { return nil }

func (s *DynamoDBStore) truncateTable(ctx context.Context, table tableKeys) error {
	var lastKey map[string]dbtypes.AttributeValue

	names := map[string]string{"#pk": table.pk}
	projection := "#pk"
	if table.sk != "" {
		names["#sk"] = table.sk
		projection = "#pk, #sk"
	}

	for {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(table.name),
			ProjectionExpression:     aws.String(projection),
			ExpressionAttributeNames: names,
			Limit:                    aws.Int32(500),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return err
		}

		// Batch delete in groups of 25
		for i := 0; i < len(result.Items); i += 25 {
			end := i + 25
			if end > len(result.Items) {
				end = len(result.Items)
			}

			requests := make([]dbtypes.WriteRequest, 0, end-i)
			for _, item := range result.Items[i:end] {
				key := map[string]dbtypes.AttributeValue{table.pk: item[table.pk]}
				if table.sk != "" {
					key[table.sk] = item[table.sk]
				}
				requests = append(requests, dbtypes.WriteRequest{
					DeleteRequest: &dbtypes.DeleteRequest{Key: key},
				})
			}

			_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]dbtypes.WriteRequest{
					table.name: requests,
				},
			})
			if err != nil {
				return err
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	s.logger.Info().Str("table", table.name).Msg("table truncated")
	return nil
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Mode {
	case ModeDynamo:
		return NewDynamoDBStore(ctx, cfg.Dynamo, logger)
	case ModePostgres, ModeSQLite:
		return OpenSQLStore(ctx, cfg.Mode, cfg.DatabaseURL, logger)
	default:
		logger.Info().Msg("persistence disabled (STORE_MODE=none)")
		return NewNoopStore(), nil
	}
}
