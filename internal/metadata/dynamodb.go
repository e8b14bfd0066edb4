package metadata

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoMaxInOperands is the DynamoDB limit on IN operands per expression.
const dynamoMaxInOperands = 100

// DynamoScanAPI defines the subset of the DynamoDB client that the source
// uses. This allows mocking in tests.
type DynamoScanAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBOptions configures the DynamoDB client.
type DynamoDBOptions struct {
	Region      string
	EndpointURL string
	// PingTable is described by Ping. Optional.
	PingTable string
}

// DynamoDBSource implements ReferenceSource over DynamoDB tables. Each
// descriptor table is a DynamoDB table; values may be S, SS or L of S.
type DynamoDBSource struct {
	client    DynamoScanAPI
	pingTable string
}

// NewDynamoDBSource creates a DynamoDBSource using the default AWS
// credential chain.
func NewDynamoDBSource(ctx context.Context, opts DynamoDBOptions) (*DynamoDBSource, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if opts.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(opts.EndpointURL)
	}

	return &DynamoDBSource{
		client:    dynamodb.NewFromConfig(awsCfg),
		pingTable: opts.PingTable,
	}, nil
}

// NewDynamoDBSourceWithClient creates a DynamoDBSource with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewDynamoDBSourceWithClient(client DynamoScanAPI, pingTable string) *DynamoDBSource {
	return &DynamoDBSource{client: client, pingTable: pingTable}
}

// Ping describes the configured ping table, if any.
func (s *DynamoDBSource) Ping(ctx context.Context) error {
	if s.pingTable == "" {
		return nil
	}
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.pingTable),
	})
	return err
}

// Close is a no-op; the AWS client holds no resources.
func (s *DynamoDBSource) Close() error {
	return nil
}

// Values scans d.Table projecting only d.Column.
func (s *DynamoDBSource) Values(ctx context.Context, d Descriptor, fn func(Value) error) error {
	if err := d.Validate(); err != nil {
		return err
	}
	input := &dynamodb.ScanInput{
		TableName:                aws.String(d.Table),
		ProjectionExpression:     aws.String("#c"),
		FilterExpression:         aws.String("attribute_exists(#c)"),
		ExpressionAttributeNames: map[string]string{"#c": d.Column},
	}
	return s.scan(ctx, input, d.Column, fn)
}

// OwnedValues scans d.Table filtered on the owner attribute.
func (s *DynamoDBSource) OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error {
	if d.OwnerColumn == "" || len(owners) == 0 {
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	for _, chunk := range chunkStrings(owners, dynamoMaxInOperands) {
		values := make(map[string]types.AttributeValue, len(chunk))
		filter := "attribute_exists(#c) AND #o IN ("
		for i, o := range chunk {
			name := ":o" + strconv.Itoa(i)
			if i > 0 {
				filter += ", "
			}
			filter += name
			values[name] = &types.AttributeValueMemberS{Value: o}
		}
		filter += ")"

		input := &dynamodb.ScanInput{
			TableName:                 aws.String(d.Table),
			ProjectionExpression:      aws.String("#c"),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeNames:  map[string]string{"#c": d.Column, "#o": d.OwnerColumn},
			ExpressionAttributeValues: values,
		}
		if err := s.scan(ctx, input, d.Column, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *DynamoDBSource) scan(ctx context.Context, input *dynamodb.ScanInput, column string, fn func(Value) error) error {
	var exclusiveStartKey map[string]types.AttributeValue
	for {
		if exclusiveStartKey != nil {
			input.ExclusiveStartKey = exclusiveStartKey
		}

		resp, err := s.client.Scan(ctx, input)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", aws.ToString(input.TableName), err)
		}

		for _, item := range resp.Items {
			if err := emitAttribute(item[column], fn); err != nil {
				return err
			}
		}

		if len(resp.LastEvaluatedKey) == 0 {
			return nil
		}
		exclusiveStartKey = resp.LastEvaluatedKey
	}
}

// emitAttribute flattens string attribute values into fn calls. Absent and
// NULL attributes are skipped; every other type is emitted as opaque.
func emitAttribute(av types.AttributeValue, fn func(Value) error) error {
	switch v := av.(type) {
	case nil, *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberS:
		return fn(Text(v.Value))
	case *types.AttributeValueMemberSS:
		for _, s := range v.Value {
			if err := fn(Text(s)); err != nil {
				return err
			}
		}
		return nil
	case *types.AttributeValueMemberL:
		for _, e := range v.Value {
			if err := emitAttribute(e, fn); err != nil {
				return err
			}
		}
		return nil
	case *types.AttributeValueMemberN:
		return fn(Value{Raw: v.Value, Opaque: true})
	case *types.AttributeValueMemberBOOL:
		return fn(Value{Raw: strconv.FormatBool(v.Value), Opaque: true})
	}
	return fn(Value{Raw: strings.TrimPrefix(fmt.Sprintf("%T", av), "*types.AttributeValueMember"), Opaque: true})
}

// Ensure DynamoDBSource implements ReferenceSource at compile time.
var _ ReferenceSource = (*DynamoDBSource)(nil)
