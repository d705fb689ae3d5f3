package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/relabs-tech/kumii/core/backend"
	"github.com/relabs-tech/kumii/core/backend/kss"
)

// Config holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
type Config struct {
	Environment string `env:"NODE_ENV,default=development" validate:"oneof=development production test"`
	Port        int    `env:"PORT,default=3001" validate:"min=1,max=65535"`
	APIURL      string `env:"API_URL" validate:"required,url"`

	Postgres         string `env:"POSTGRES" validate:"required"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	DBSchema         string `env:"DB_SCHEMA,default=public"`
	UpdateSchema     bool   `env:"UPDATE_SCHEMA,default=true"`

	SupabaseURL            string `env:"SUPABASE_URL" validate:"required,url"`
	SupabaseAnonKey        string `env:"SUPABASE_ANON_KEY" validate:"required"`
	SupabaseServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY" validate:"required"`
	SupabaseStorageBucket  string `env:"SUPABASE_STORAGE_BUCKET,default=collaboration-attachments"`
	JWTSecret              string `env:"JWT_SECRET" validate:"required,min=32"`
	SessionSecret          string `env:"SESSION_SECRET" validate:"required,min=32"`
	AuthVerify             string `env:"AUTH_VERIFY,default=jwt" validate:"oneof=jwt remote"`

	ResendAPIKey    string `env:"RESEND_API_KEY"`
	ResendFromEmail string `env:"RESEND_FROM_EMAIL" validate:"omitempty,email"`

	RateLimitWindowMS    int    `env:"RATE_LIMIT_WINDOW_MS,default=900000" validate:"min=1"`
	RateLimitMaxRequests int    `env:"RATE_LIMIT_MAX_REQUESTS,default=100" validate:"min=1"`
	CORSOrigin           string `env:"CORS_ORIGIN,default=http://localhost:5173" validate:"required"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=error warn info debug"`
	LogFormat string `env:"LOG_FORMAT,default=text" validate:"oneof=text json"`

	// AllowedFileTypes is a comma separated list, empty selects the built-in list
	AllowedFileTypes string `env:"ALLOWED_FILE_TYPES"`
	MaxFileSizeMB    int    `env:"MAX_FILE_SIZE_MB,default=10" validate:"min=1"`

	StorageDriver    string `env:"STORAGE_DRIVER,default=Local" validate:"oneof=Local AWSS3"`
	StorageLocalPath string `env:"STORAGE_LOCAL_PATH,default=./uploads"`
	StorageS3Region  string `env:"STORAGE_S3_REGION"`
	StorageEndpoint  string `env:"STORAGE_S3_ENDPOINT" validate:"omitempty,url"`
	StorageAccessID  string `env:"STORAGE_S3_ACCESS_ID"`
	StorageAccessKey string `env:"STORAGE_S3_ACCESS_KEY"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC"`

	JobHeartbeat time.Duration `env:"JOB_HEARTBEAT,default=30s"`
}

// LoadConfig decodes the configuration from the environment and validates it
func LoadConfig() (*Config, error) {
	config := &Config{}
	if err := envdecode.Decode(config); err != nil {
		return nil, fmt.Errorf("cannot decode environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration. The error lists every failing variable.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	failed := make([]string, 0, len(verrs))
	for _, e := range verrs {
		failed = append(failed, fmt.Sprintf("%s (%s)", e.StructField(), e.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(failed, ", "))
}

// Backend returns the tunables of the REST API
func (c *Config) Backend() backend.Configuration {
	return backend.Configuration{
		Environment:      c.Environment,
		CORSOrigins:      splitList(c.CORSOrigin),
		AllowedFileTypes: splitList(c.AllowedFileTypes),
		MaxFileSize:      int64(c.MaxFileSizeMB) * 1024 * 1024,
		RateLimitWindow:  time.Duration(c.RateLimitWindowMS) * time.Millisecond,
		RateLimitMax:     c.RateLimitMaxRequests,
		PublicURL:        c.APIURL,
	}
}

// KSS returns the configuration of the attachment storage
func (c *Config) KSS() kss.Configuration {
	switch kss.DriverType(c.StorageDriver) {
	case kss.DriverTypeAWSS3:
		return kss.Configuration{
			DriverType: kss.DriverTypeAWSS3,
			S3Configuration: &kss.S3Configuration{
				AccessID:      c.StorageAccessID,
				AccessKey:     c.StorageAccessKey,
				AWSRegion:     c.StorageS3Region,
				AWSBucketName: c.SupabaseStorageBucket,
				Endpoint:      c.StorageEndpoint,
			},
		}
	default:
		return kss.Configuration{
			DriverType: kss.DriverTypeLocal,
			LocalConfiguration: &kss.LocalConfiguration{
				BasePath:  c.StorageLocalPath,
				PublicURL: c.APIURL,
			},
		}
	}
}

func splitList(s string) []string {
	var list []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
