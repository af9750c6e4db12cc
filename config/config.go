package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"gopkg.in/yaml.v3"

	"arctic-iceberg/partition"
	"arctic-iceberg/table"
)

// Catalog backends.
const (
	CatalogMemory   = "memory"
	CatalogFile     = "file"
	CatalogPostgres = "postgres"
	CatalogDynamoDB = "dynamodb"
	CatalogBolt     = "bolt"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Storage  StorageConfig  `yaml:"storage"`
	AWS      AWSConfig      `yaml:"aws"`
	Commit   CommitConfig   `yaml:"commit"`
	Postgres PostgresConfig `yaml:"postgres"`
	Tables   []TableConfig  `yaml:"tables"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Server   ServerConfig   `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CatalogConfig struct {
	Type string `yaml:"type"`
	// Path is the database file of the bolt catalog.
	Path string `yaml:"path"`
	// DSN of the postgres catalog; defaults to the replication source.
	DSN string `yaml:"dsn"`
	// DynamoTable names the DynamoDB table of the dynamodb catalog.
	DynamoTable string `yaml:"dynamo_table"`
}

type StorageConfig struct {
	Type   string `yaml:"type"`
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	MaxRetries      int    `yaml:"max_retries"`
}

type CommitConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
}

type PostgresConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	Slot        string `yaml:"slot"`
	Publication string `yaml:"publication"`
}

// TableConfig selects a source relation to replicate and how its table is
// partitioned when it is first created.
type TableConfig struct {
	Schema    string            `yaml:"schema"`
	Name      string            `yaml:"name"`
	Partition []PartitionConfig `yaml:"partition"`
}

type PartitionConfig struct {
	Source    string `yaml:"source"`
	Transform string `yaml:"transform"`
	Name      string `yaml:"name"`
}

type ProxyConfig struct {
	Port int `yaml:"port"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Catalog: CatalogConfig{Type: CatalogFile, DynamoTable: "iceberg_tables"},
		Storage: StorageConfig{Type: StorageLocal, Path: "warehouse"},
		Commit: CommitConfig{
			MaxRetries:     table.DefaultRetryPolicy().MaxRetries,
			InitialBackoff: table.DefaultRetryPolicy().InitialBackoff,
			MaxBackoff:     table.DefaultRetryPolicy().MaxBackoff,
			Timeout:        table.DefaultRetryPolicy().Timeout,
		},
		Postgres: PostgresConfig{Host: "localhost", Port: 5432, Slot: "arctic_iceberg", Publication: "arctic_iceberg"},
		Proxy:    ProxyConfig{Port: 5433},
		Server:   ServerConfig{Addr: ":8181"},
	}
}

// LoadConfig reads the YAML file at path over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Catalog.Type {
	case CatalogMemory, CatalogFile:
	case CatalogBolt:
		if c.Catalog.Path == "" {
			errs = append(errs, errors.New("catalog.path is required for the bolt catalog"))
		}
	case CatalogDynamoDB:
		if c.Catalog.DynamoTable == "" {
			errs = append(errs, errors.New("catalog.dynamo_table is required for the dynamodb catalog"))
		}
	case CatalogPostgres:
		if c.Catalog.DSN == "" && c.Postgres.Database == "" {
			errs = append(errs, errors.New("catalog.dsn or postgres.database is required for the postgres catalog"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown catalog.type %q", c.Catalog.Type))
	}

	switch c.Storage.Type {
	case StorageLocal:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for local storage"))
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}

	if c.Commit.MaxRetries < 0 {
		errs = append(errs, errors.New("commit.max_retries must not be negative"))
	}

	for i, t := range c.Tables {
		if t.Schema == "" || t.Name == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: schema and name are required", i))
		}
		for j, p := range t.Partition {
			if p.Source == "" {
				errs = append(errs, fmt.Errorf("tables[%d].partition[%d]: source is required", i, j))
			}
			t, ok := partition.Resolve(p.Transform)
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("tables[%d].partition[%d]: unknown transform %q", i, j, p.Transform))
			case !t.Bound():
				errs = append(errs, fmt.Errorf("tables[%d].partition[%d]: transform %q needs a width, like %s[16]", i, j, p.Transform, p.Transform))
			}
		}
	}

	return errors.Join(errs...)
}

// RetryPolicy returns the commit retry policy.
func (c *Config) RetryPolicy() table.RetryPolicy {
	return table.RetryPolicy{
		MaxRetries:     c.Commit.MaxRetries,
		InitialBackoff: c.Commit.InitialBackoff,
		MaxBackoff:     c.Commit.MaxBackoff,
		Timeout:        c.Commit.Timeout,
	}
}

// DSN returns the connection string of the source database. With
// replication set it requests a logical replication connection.
func (p PostgresConfig) DSN(replication bool) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + strconv.Itoa(p.Port),
		Path:   "/" + p.Database,
	}
	if replication {
		u.RawQuery = "replication=database"
	}
	return u.String()
}

// TableName is the catalog name of a replicated relation, "schema.name".
func (t TableConfig) TableName() string {
	return t.Schema + "." + t.Name
}

// PartitionName returns the configured partition field name or derives one
// from the source column and transform.
func (p PartitionConfig) PartitionName() string {
	if p.Name != "" {
		return p.Name
	}
	if t, ok := partition.Resolve(p.Transform); ok && t.Kind != partition.KindIdentity {
		return p.Source + "_" + t.Kind.String()
	}
	return p.Source
}

// Load resolves an AWS SDK configuration from the section, falling back to
// the default credential chain when no static keys are set.
func (a AWSConfig) Load(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if a.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.Region))
	}
	if a.Endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(a.Endpoint))
	}
	if a.MaxRetries > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(a.MaxRetries))
	}
	if a.AccessKeyID != "" || a.SecretAccessKey != "" || a.SessionToken != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.AccessKeyID, a.SecretAccessKey, a.SessionToken),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
