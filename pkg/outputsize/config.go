// Package outputsize resolves the size of run outputs stored in S3 or
// S3-compatible object storage.
package outputsize

// Config configures the S3 client used to look up outputs.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set.
type Config struct {
	// Region is the AWS region. Empty defers to env/profile, then
	// DefaultAWSRegion when no Endpoint is set.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	Profile         string
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle is required by most S3-compatible stores.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3.
const DefaultAWSRegion = "us-east-1"

// Validate checks that credentials are provided together.
func (c *Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "outputsize config: " + e.Field + ": " + e.Message
}
