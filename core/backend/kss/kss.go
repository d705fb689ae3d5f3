// Package kss stores large files, such as chat attachments, outside of the database.
// There are currently two backends: a local file system and AWS S3 (or any S3
// compatible service such as Supabase storage).
package kss

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrInvalidKey is returned for keys which are empty or try to escape the storage root
var ErrInvalidKey = errors.New("invalid key")

// DefaultURLExpiry is the time for which a signed download URL stays valid
const DefaultURLExpiry = 7 * 24 * time.Hour

// Driver defines the interface for the KSS service
type Driver interface {
	// Put stores size bytes from body under key
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	// URL returns a signed URL from which the file under key can be downloaded
	URL(ctx context.Context, key string) (string, error)
	// Delete removes the file under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// DriverType represents the different type of KSS Drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no KSS implementation
const None DriverType = ""

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
	// PublicURL is the externally visible base URL of the API, used to build download URLs
	PublicURL string
}

// S3Configuration contains the configuration for the S3 KSS service
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSRegion     string
	AWSBucketName string
	// Endpoint overrides the AWS endpoint for S3 compatible services. Path style
	// addressing is used when set.
	Endpoint  string
	KeyPrefix string
}

func validKey(key string) bool {
	return key != "" && !strings.Contains(key, "..") && !strings.HasPrefix(key, "/")
}
