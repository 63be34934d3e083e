package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CassandraKeyspace != "skyvault" {
		t.Fatalf("keyspace = %q, want skyvault", cfg.CassandraKeyspace)
	}
	if cfg.RetentionMonths != 3 {
		t.Fatalf("retention = %d, want 3", cfg.RetentionMonths)
	}
	if cfg.SoldTopic != "SOLD_AUCTION" || cfg.NewTopic != "NEW_AUCTION" {
		t.Fatalf("topics = %q / %q", cfg.SoldTopic, cfg.NewTopic)
	}
	if cfg.APIPort != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.APIPort)
	}
}

func TestLoadEnvBothSpellings(t *testing.T) {
	t.Setenv("CASSANDRA:KEYSPACE", "prod_keyspace")
	t.Setenv("CASSANDRA_HOSTS", "cass1, cass2 ,cass3")
	t.Setenv("TOPICS_SOLD_AUCTION", "SOLD_V2")
	t.Setenv("RETENTION_MONTHS", "6")
	t.Setenv("RUN_HISTORY_MIGRATION", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CassandraKeyspace != "prod_keyspace" {
		t.Fatalf("keyspace = %q, want the colon-form value", cfg.CassandraKeyspace)
	}
	want := []string{"cass1", "cass2", "cass3"}
	if len(cfg.CassandraHosts) != 3 {
		t.Fatalf("hosts = %v, want %v", cfg.CassandraHosts, want)
	}
	for i, h := range want {
		if cfg.CassandraHosts[i] != h {
			t.Fatalf("hosts = %v, want %v", cfg.CassandraHosts, want)
		}
	}
	if cfg.SoldTopic != "SOLD_V2" {
		t.Fatalf("sold topic = %q, want the underscore-alias value", cfg.SoldTopic)
	}
	if cfg.RetentionMonths != 6 {
		t.Fatalf("retention = %d, want 6", cfg.RetentionMonths)
	}
	if !cfg.RunHistoryMigration {
		t.Fatal("RUN_HISTORY_MIGRATION=true not picked up")
	}
}

func TestLoadColonFormWins(t *testing.T) {
	t.Setenv("CASSANDRA:USER", "colon_user")
	t.Setenv("CASSANDRA_USER", "underscore_user")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CassandraUser != "colon_user" {
		t.Fatalf("user = %q, want the colon form to win", cfg.CassandraUser)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	file := []byte("api_port: 9090\nretention_months: 5\nredis_host: redis.internal:6379\n")
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RETENTION_MONTHS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIPort != 9090 {
		t.Fatalf("port = %d, want the file's 9090", cfg.APIPort)
	}
	if cfg.RedisHost != "redis.internal:6379" {
		t.Fatalf("redis = %q", cfg.RedisHost)
	}
	if cfg.RetentionMonths != 7 {
		t.Fatalf("retention = %d, want the environment's 7", cfg.RetentionMonths)
	}
}

func TestLoadBadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("api_port: [not an int\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("broken yaml accepted")
	}
}
