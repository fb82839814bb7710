package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// strictDoc mirrors Config with yaml tags. Decoding with KnownFields
// rejects misspelled or unknown keys before viper's lenient merge
// silently drops them.
type strictDoc struct {
	Server struct {
		Host            string `yaml:"host"`
		Port            int    `yaml:"port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		IdleTimeout     string `yaml:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level   string `yaml:"level"`
		Profile string `yaml:"profile"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Health struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"health"`
	S3 struct {
		Region            string  `yaml:"region"`
		Endpoint          string  `yaml:"endpoint"`
		Scheme            string  `yaml:"scheme"`
		PathStyle         bool    `yaml:"path_style"`
		Anonymous         bool    `yaml:"anonymous"`
		AccessKey         string  `yaml:"access_key"`
		SecretKey         string  `yaml:"secret_key"`
		SessionToken      string  `yaml:"session_token"`
		RequestTimeout    string  `yaml:"request_timeout"`
		ConnectTimeout    string  `yaml:"connect_timeout"`
		MaxConnections    int     `yaml:"max_connections"`
		BackgroundWrites  bool    `yaml:"background_writes"`
		AllowDelayedOpen  bool    `yaml:"allow_delayed_open"`
		AllowBucketCreate bool    `yaml:"allow_bucket_creation"`
		AllowBucketDelete bool    `yaml:"allow_bucket_deletion"`
		CheckDirExistence bool    `yaml:"check_directory_existence_before_creation"`
		SSECustomerKey    string  `yaml:"sse_customer_key"`
		ListRateLimit     float64 `yaml:"list_rate_limit"`
	} `yaml:"s3"`
}

// validateConfigFile parses the YAML document in strict mode so that
// unknown keys fail loudly instead of being ignored.
func validateConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	for {
		var doc strictDoc
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("config %s: %w", path, err)
		}
	}
}
