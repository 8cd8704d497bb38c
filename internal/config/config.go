package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type PostgresConfig struct {
	URL string
}

type MinioConfig struct {
	URL             string
	PROJECTS_BUCKET string
	ACCESS_KEY      string
	SECRET_KEY      string
	USE_SSL         bool
}

type NatsConfig struct {
	URL string
}

type LLMConfig struct {
	BASE_URL string
	API_KEY  string
	MODEL    string
}

type SandboxConfig struct {
	PROVIDER        string // "docker"
	IMAGE           string
	AGENT_PORT      int
	APP_PORT        int
	SECCOMP_PROFILE string
	CPU_QUOTA       int64
	MEMORY_LIMIT    int64
}

// OrchestratorConfig carries the timing policy for job monitoring. All values
// have defaults; env overrides are in seconds.
type OrchestratorConfig struct {
	PollInterval    time.Duration
	JobCeiling      time.Duration
	ProbeTimeout    time.Duration
	SweepInterval   time.Duration
	AbandonAfter    time.Duration
	RecordRetention time.Duration
	DeployGrace     time.Duration
}

type Config struct {
	SERVICE_NAME string
	TRACE_URL    string
	HTTP_ADDR    string
}

func env(key string) string {
	return os.Getenv(key)
}

func convertStringToInt(s string, key string) (int, error) {
	sInt, err := strconv.Atoi(s)
	if err != nil {
		return -1, fmt.Errorf("error initializing config with key: %s, err: %v", key, err)
	}
	return sInt, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return fallback, nil
	}
	secs, err := convertStringToInt(v, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

func GetPostgresConfig() (*PostgresConfig, error) {
	url := env("POSTGRES_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: POSTGRES_URL is empty")
	}
	return &PostgresConfig{URL: url}, nil
}

func GetMinioConfig() (*MinioConfig, error) {
	url := env("MINIO_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: MINIO_URL is empty")
	}
	bucket := env("MINIO_PROJECTS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("KEY: MINIO_PROJECTS_BUCKET is empty")
	}
	return &MinioConfig{
		URL:             url,
		PROJECTS_BUCKET: bucket,
		ACCESS_KEY:      env("MINIO_ACCESS_KEY"),
		SECRET_KEY:      env("MINIO_SECRET_KEY"),
		USE_SSL:         env("MINIO_USE_SSL") == "true",
	}, nil
}

func GetNatsConfig() (*NatsConfig, error) {
	url := env("JETSTREAM_URL")
	if url == "" {
		return nil, fmt.Errorf("KEY: JETSTREAM_URL is empty")
	}
	return &NatsConfig{URL: url}, nil
}

func GetLLMConfig() (*LLMConfig, error) {
	base := env("LLM_BASE_URL")
	if base == "" {
		return nil, fmt.Errorf("KEY: LLM_BASE_URL is empty")
	}
	model := env("LLM_MODEL")
	if model == "" {
		return nil, fmt.Errorf("KEY: LLM_MODEL is empty")
	}
	return &LLMConfig{
		BASE_URL: base,
		API_KEY:  env("LLM_API_KEY"),
		MODEL:    model,
	}, nil
}

func GetSandboxConfig() (*SandboxConfig, error) {
	image := env("SANDBOX_IMAGE")
	if image == "" {
		return nil, fmt.Errorf("KEY: SANDBOX_IMAGE is empty")
	}
	agentPort := 8088
	if v := env("SANDBOX_AGENT_PORT"); v != "" {
		p, err := convertStringToInt(v, "SANDBOX_AGENT_PORT")
		if err != nil {
			return nil, err
		}
		agentPort = p
	}
	appPort := 3000
	if v := env("SANDBOX_APP_PORT"); v != "" {
		p, err := convertStringToInt(v, "SANDBOX_APP_PORT")
		if err != nil {
			return nil, err
		}
		appPort = p
	}
	var cpuQuota int64 = 100000
	var memLimit int64 = 1 << 30
	return &SandboxConfig{
		PROVIDER:        env("SANDBOX_PROVIDER"),
		IMAGE:           image,
		AGENT_PORT:      agentPort,
		APP_PORT:        appPort,
		SECCOMP_PROFILE: env("SANDBOX_SECCOMP_PROFILE"),
		CPU_QUOTA:       cpuQuota,
		MEMORY_LIMIT:    memLimit,
	}, nil
}

func GetOrchestratorConfig() (*OrchestratorConfig, error) {
	poll, err := envSeconds("JOB_POLL_INTERVAL_SECONDS", 8*time.Second)
	if err != nil {
		return nil, err
	}
	ceiling, err := envSeconds("JOB_CEILING_SECONDS", 25*time.Minute)
	if err != nil {
		return nil, err
	}
	probe, err := envSeconds("JOB_PROBE_TIMEOUT_SECONDS", 30*time.Second)
	if err != nil {
		return nil, err
	}
	sweep, err := envSeconds("JOB_SWEEP_INTERVAL_SECONDS", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	abandon, err := envSeconds("JOB_ABANDON_AFTER_SECONDS", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	retention, err := envSeconds("JOB_RECORD_RETENTION_SECONDS", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	grace, err := envSeconds("DEPLOY_GRACE_SECONDS", 3*time.Second)
	if err != nil {
		return nil, err
	}
	return &OrchestratorConfig{
		PollInterval:    poll,
		JobCeiling:      ceiling,
		ProbeTimeout:    probe,
		SweepInterval:   sweep,
		AbandonAfter:    abandon,
		RecordRetention: retention,
		DeployGrace:     grace,
	}, nil
}

func GetConfig() *Config {
	addr := env("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	name := env("SERVICE_NAME")
	if name == "" {
		name = "forge"
	}
	return &Config{
		SERVICE_NAME: name,
		TRACE_URL:    env("TRACE_URL"),
		HTTP_ADDR:    addr,
	}
}
