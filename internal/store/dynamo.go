package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/recording-splitter/internal/split"
)

// DynamoDB key constants for the claims table.
const (
	pkPrefix  = "RUN#"
	skPrefix  = "SEG#"
	skItem    = "#ITEM#"
	skMods    = "#MOD#"
	condFresh = "attribute_not_exists(PK)"
)

// DynamoAPI is the subset of the DynamoDB client the registry uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// claimRecord is the item body; PK, SK and expiresAt are added on write.
type claimRecord struct {
	Fragment  string `dynamodbav:"fragment"`
	ItemID    string `dynamodbav:"itemId"`
	Modifiers string `dynamodbav:"modifiers"`
	ClaimedAt string `dynamodbav:"claimedAt"`
}

// DynamoRegistry stores claims in a DynamoDB table. A conditional PutItem is
// the insert-if-absent, so claims stay unique across processes and hosts.
type DynamoRegistry struct {
	client    DynamoAPI
	tableName string
	runID     string
}

var _ Registry = (*DynamoRegistry)(nil)

// NewDynamoRegistry creates a DynamoRegistry for the given table and run.
func NewDynamoRegistry(client DynamoAPI, tableName, runID string) *DynamoRegistry {
	return &DynamoRegistry{client: client, tableName: tableName, runID: runID}
}

func (r *DynamoRegistry) pk() string {
	return pkPrefix + r.runID
}

func claimSK(k split.Key) string {
	return skPrefix + k.Fragment + skItem + k.ItemID + skMods + k.Modifiers
}

// Claim implements split.Registry.
func (r *DynamoRegistry) Claim(ctx context.Context, k split.Key) (bool, error) {
	item, err := attributevalue.MarshalMap(claimRecord{
		Fragment:  k.Fragment,
		ItemID:    k.ItemID,
		Modifiers: k.Modifiers,
		ClaimedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, fmt.Errorf("marshal: %w", err)
	}
	pk, sk := r.pk(), claimSK(k)
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(ClaimTTL).Unix(), 10)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.tableName,
		Item:                item,
		ConditionExpression: aws.String(condFresh),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			log.Debug().Str("sk", sk).Msg("Segment already claimed")
			return false, nil
		}
		return false, fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// Count implements Registry. It pages through the run's partition with
// SELECT COUNT.
func (r *DynamoRegistry) Count(ctx context.Context) (int, error) {
	pk := r.pk()
	total := 0
	var start map[string]types.AttributeValue
	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &r.tableName,
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
				":sk": &types.AttributeValueMemberS{Value: skPrefix},
			},
			Select:            types.SelectCount,
			ExclusiveStartKey: start,
		})
		if err != nil {
			return 0, fmt.Errorf("Query count PK=%s: %w", pk, err)
		}
		total += int(result.Count)
		if len(result.LastEvaluatedKey) == 0 {
			return total, nil
		}
		start = result.LastEvaluatedKey
	}
}

// Close implements Registry.
func (r *DynamoRegistry) Close() error { return nil }
