package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bleepstore/bleepsweep/internal/metadata"
	"github.com/bleepstore/bleepsweep/internal/storage"
)

// OpenObjectStore builds the object store selected by storage.backend.
func (c *Config) OpenObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	sc := c.Storage
	switch sc.Backend {
	case "memory":
		slog.Info("Storage backend initialized", "backend", "memory")
		return storage.NewMemoryBackend(), nil

	case "aws":
		b, err := storage.NewAWSBackend(ctx, storage.AWSOptions{
			Region:          sc.AWS.Region,
			EndpointURL:     sc.AWS.EndpointURL,
			UsePathStyle:    sc.AWS.UsePathStyle,
			AccessKeyID:     sc.AWS.AccessKeyID,
			SecretAccessKey: sc.AWS.SecretAccessKey,
			HealthBucket:    sc.AWS.HealthBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing AWS storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "aws", "region", sc.AWS.Region, "endpoint", sc.AWS.EndpointURL)
		return b, nil

	case "gcp":
		b, err := storage.NewGCPBackend(ctx, sc.GCP.Project, sc.GCP.CredentialsFile, sc.GCP.HealthBucket)
		if err != nil {
			return nil, fmt.Errorf("initializing GCP storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "gcp", "project", sc.GCP.Project)
		return b, nil

	case "azure":
		accountURL := sc.Azure.AccountURL
		if accountURL == "" && sc.Azure.ConnectionString == "" {
			if sc.Azure.Account == "" {
				return nil, fmt.Errorf("storage.azure.account, account_url or connection_string is required when backend is 'azure'")
			}
			accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", sc.Azure.Account)
		}
		b, err := storage.NewAzureBackend(ctx, storage.AzureOptions{
			AccountURL:         accountURL,
			ConnectionString:   sc.Azure.ConnectionString,
			UseManagedIdentity: sc.Azure.UseManagedIdentity,
			HealthContainer:    sc.Azure.HealthContainer,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Azure storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "azure", "account", accountURL)
		return b, nil

	case "storageapi":
		b, err := storage.NewStorageAPIBackend(storage.StorageAPIOptions{
			URL:        sc.StorageAPI.URL,
			ServiceKey: sc.StorageAPI.ServiceKey,
			Timeout:    time.Duration(sc.StorageAPI.Timeout) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing storage API backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "storageapi", "url", sc.StorageAPI.URL)
		return b, nil

	case "local":
		if err := os.MkdirAll(sc.Local.RootDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage root directory: %w", err)
		}
		b, err := storage.NewLocalBackend(sc.Local.RootDir)
		if err != nil {
			return nil, fmt.Errorf("initializing local storage backend: %w", err)
		}
		slog.Info("Storage backend initialized", "backend", "local", "root", sc.Local.RootDir)
		return b, nil
	}
	return nil, fmt.Errorf("unknown storage.backend %q", sc.Backend)
}

// OpenReferenceSource builds the reference source selected by
// metadata.engine. It returns nil, nil for the "none" engine.
func (c *Config) OpenReferenceSource(ctx context.Context) (metadata.ReferenceSource, error) {
	mc := c.Metadata
	switch mc.Engine {
	case "none":
		slog.Info("Reference source disabled")
		return nil, nil

	case "memory":
		slog.Info("Reference source initialized", "engine", "memory")
		return metadata.NewMemorySource(), nil

	case "local":
		src, err := metadata.NewLocalSource(mc.Local.Dir)
		if err != nil {
			return nil, fmt.Errorf("initializing local reference source: %w", err)
		}
		slog.Info("Reference source initialized", "engine", "local", "dir", mc.Local.Dir)
		return src, nil

	case "sqlite":
		if _, err := os.Stat(mc.SQLite.Path); err != nil {
			return nil, fmt.Errorf("opening SQLite reference database %s: %w", filepath.Clean(mc.SQLite.Path), err)
		}
		src, err := metadata.NewSQLiteSource(mc.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("initializing SQLite reference source: %w", err)
		}
		slog.Info("Reference source initialized", "engine", "sqlite", "path", mc.SQLite.Path)
		return src, nil

	case "postgres":
		src, err := metadata.NewPostgresSource(ctx, metadata.PostgresOptions{
			DSN:      mc.Postgres.DSN,
			MaxConns: mc.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Postgres reference source: %w", err)
		}
		slog.Info("Reference source initialized", "engine", "postgres")
		return src, nil

	case "dynamodb":
		src, err := metadata.NewDynamoDBSource(ctx, metadata.DynamoDBOptions{
			Region:      mc.DynamoDB.Region,
			EndpointURL: mc.DynamoDB.EndpointURL,
			PingTable:   mc.DynamoDB.PingTable,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing DynamoDB reference source: %w", err)
		}
		slog.Info("Reference source initialized", "engine", "dynamodb", "region", mc.DynamoDB.Region)
		return src, nil

	case "firestore":
		src, err := metadata.NewFirestoreSource(ctx, metadata.FirestoreOptions{
			ProjectID:       mc.Firestore.ProjectID,
			CredentialsFile: mc.Firestore.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Firestore reference source: %w", err)
		}
		slog.Info("Reference source initialized", "engine", "firestore", "project", mc.Firestore.ProjectID)
		return src, nil

	case "cosmos":
		src, err := metadata.NewCosmosSource(metadata.CosmosOptions{
			Endpoint:  mc.Cosmos.Endpoint,
			MasterKey: mc.Cosmos.MasterKey,
			Database:  mc.Cosmos.Database,
			Container: mc.Cosmos.Container,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing Cosmos DB reference source: %w", err)
		}
		slog.Info("Reference source initialized", "engine", "cosmos", "database", mc.Cosmos.Database)
		return src, nil
	}
	return nil, fmt.Errorf("unknown metadata.engine %q", mc.Engine)
}
