// Package config centralizes the service configuration. Values come from
// an optional YAML file with the environment applied on top, so a deploy
// can ship a base file and still override single keys per instance.
//
// Environment keys follow the deployment's colon convention
// (CASSANDRA:HOSTS); every key also accepts an underscore alias
// (CASSANDRA_HOSTS) for shells that cannot export colon names.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	CassandraHosts    []string `yaml:"cassandra_hosts"`
	CassandraKeyspace string   `yaml:"cassandra_keyspace"`
	CassandraUser     string   `yaml:"cassandra_user"`
	CassandraPassword string   `yaml:"cassandra_password"`
	ReplicationClass  string   `yaml:"replication_class"`
	ReplicationFactor int      `yaml:"replication_factor"`
	CassandraCAPaths  []string `yaml:"cassandra_ca_paths"`

	RedisHost string `yaml:"redis_host"`

	S3Bucket    string `yaml:"s3_bucket"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3Insecure  bool   `yaml:"s3_insecure"`
	WorkDir     string `yaml:"work_dir"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	SoldTopic    string   `yaml:"sold_topic"`
	NewTopic     string   `yaml:"new_topic"`

	DBURL         string `yaml:"db_url"`
	PlayerNameURL string `yaml:"player_name_url"`

	APIPort              int    `yaml:"api_port"`
	RetentionMonths      int    `yaml:"retention_months"`
	ArchiveIntervalHours int    `yaml:"archive_interval_hours"`
	ArchiveDryRun        bool   `yaml:"archive_dry_run"`
	RunHistoryMigration  bool   `yaml:"run_history_migration"`
	AdminJWTSecret       string `yaml:"admin_jwt_secret"`
}

func Default() Config {
	return Config{
		CassandraHosts:       []string{"localhost"},
		CassandraKeyspace:    "skyvault",
		ReplicationClass:     "SimpleStrategy",
		ReplicationFactor:    1,
		RedisHost:            "localhost:6379",
		SoldTopic:            "SOLD_AUCTION",
		NewTopic:             "NEW_AUCTION",
		APIPort:              8080,
		RetentionMonths:      3,
		ArchiveIntervalHours: 24,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then the environment on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if cfg.RetentionMonths <= 0 {
		cfg.RetentionMonths = 3
	}
	if cfg.ArchiveIntervalHours <= 0 {
		cfg.ArchiveIntervalHours = 24
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setList(&c.CassandraHosts, "CASSANDRA:HOSTS")
	setString(&c.CassandraKeyspace, "CASSANDRA:KEYSPACE")
	setString(&c.CassandraUser, "CASSANDRA:USER")
	setString(&c.CassandraPassword, "CASSANDRA:PASSWORD")
	setString(&c.ReplicationClass, "CASSANDRA:REPLICATION_CLASS")
	setInt(&c.ReplicationFactor, "CASSANDRA:REPLICATION_FACTOR")
	setList(&c.CassandraCAPaths, "CASSANDRA:X509Certificate_PATHS")
	// the certificate password key is accepted but unused: the driver takes
	// PEM files, not encrypted PKCS#12 bundles
	_ = env("CASSANDRA:X509Certificate_PASSWORD")

	setString(&c.RedisHost, "REDIS_HOST")

	setString(&c.S3Bucket, "S3:BUCKET_NAME")
	setString(&c.S3Endpoint, "S3:ENDPOINT")
	setString(&c.S3Region, "S3:REGION")
	setString(&c.S3AccessKey, "S3:ACCESS_KEY")
	setString(&c.S3SecretKey, "S3:SECRET_KEY")
	setBool(&c.S3Insecure, "S3:INSECURE")
	setString(&c.WorkDir, "WORK_DIR")

	setList(&c.KafkaBrokers, "KAFKA_HOST")
	setString(&c.SoldTopic, "TOPICS:SOLD_AUCTION")
	setString(&c.NewTopic, "TOPICS:NEW_AUCTION")

	setString(&c.DBURL, "DB_URL")
	setString(&c.PlayerNameURL, "PLAYER_NAME_URL")

	setInt(&c.APIPort, "PORT")
	setInt(&c.RetentionMonths, "RETENTION_MONTHS")
	setInt(&c.ArchiveIntervalHours, "ARCHIVE_INTERVAL_HOURS")
	setBool(&c.ArchiveDryRun, "ARCHIVE_DRY_RUN")
	setBool(&c.RunHistoryMigration, "RUN_HISTORY_MIGRATION")
	setString(&c.AdminJWTSecret, "ADMIN_JWT_SECRET")
}

// env resolves a colon-form key, falling back to its underscore alias.
func env(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return os.Getenv(strings.ReplaceAll(key, ":", "_"))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := env(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := env(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func setList(dst *[]string, key string) {
	v := env(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
