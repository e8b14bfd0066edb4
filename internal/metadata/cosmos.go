package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

// CosmosOptions configures the Cosmos DB client.
type CosmosOptions struct {
	Endpoint  string
	MasterKey string
	Database  string
	Container string
}

// CosmosSource implements ReferenceSource over one Cosmos DB container in
// which each document's partition key is its table name.
type CosmosSource struct {
	client *azcosmos.ContainerClient
}

// cosmosValue is the projection shape of reference queries.
type cosmosValue struct {
	V json.RawMessage `json:"v"`
}

// NewCosmosSource creates a container client with key authentication.
func NewCosmosSource(opts CosmosOptions) (*CosmosSource, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("cosmos endpoint is required")
	}
	if opts.Database == "" {
		return nil, fmt.Errorf("cosmos database name is required")
	}
	if opts.Container == "" {
		return nil, fmt.Errorf("cosmos container name is required")
	}

	cred, err := azcosmos.NewKeyCredential(opts.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cosmos key credential: %w", err)
	}

	client, err := azcosmos.NewClientWithKey(opts.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating cosmos client: %w", err)
	}

	dbClient, err := client.NewDatabase(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("getting database client: %w", err)
	}

	containerClient, err := dbClient.NewContainer(opts.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}

	return &CosmosSource{client: containerClient}, nil
}

// Ping reads the container properties.
func (s *CosmosSource) Ping(ctx context.Context) error {
	_, err := s.client.Read(ctx, nil)
	return err
}

// Close is a no-op.
func (s *CosmosSource) Close() error {
	return nil
}

// Values queries d.Column across the d.Table partition.
func (s *CosmosSource) Values(ctx context.Context, d Descriptor, fn func(Value) error) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT c.%s AS v FROM c WHERE IS_DEFINED(c.%s) AND NOT IS_NULL(c.%s)",
		d.Column, d.Column, d.Column)
	return s.scan(ctx, d.Table, query, nil, fn)
}

// OwnedValues queries d.Column for documents owned by one of owners.
func (s *CosmosSource) OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error {
	if d.OwnerColumn == "" || len(owners) == 0 {
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT c.%s AS v FROM c WHERE IS_DEFINED(c.%s) AND ARRAY_CONTAINS(@owners, c.%s)",
		d.Column, d.Column, d.OwnerColumn)
	params := []azcosmos.QueryParameter{{Name: "@owners", Value: owners}}
	return s.scan(ctx, d.Table, query, params, fn)
}

func (s *CosmosSource) scan(ctx context.Context, partition, query string, params []azcosmos.QueryParameter, fn func(Value) error) error {
	pager := s.client.NewQueryItemsPager(query, azcosmos.NewPartitionKeyString(partition), &azcosmos.QueryOptions{
		QueryParameters: params,
	})

	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("querying cosmos partition %s: %w", partition, err)
		}
		for _, item := range resp.Items {
			var cv cosmosValue
			if err := json.Unmarshal(item, &cv); err != nil {
				if err := fn(Opaque(json.RawMessage(item))); err != nil {
					return err
				}
				continue
			}
			if err := emitValue(cv.V, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ensure CosmosSource implements ReferenceSource at compile time.
var _ ReferenceSource = (*CosmosSource)(nil)
