package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// Cache Configuration
	MemcachedAddr string

	// Local file layout
	InstanceDir    string
	RegistryDir    string
	QueueFile      string
	TmpDir         string
	ResourcePrefix string

	// Upload limits
	MaxContentLength int64
	MaxCorpusLength  int64

	// Sparv server (compute host)
	SSHKey              string
	SparvHost           string
	SparvUser           string
	SparvWorkers        int
	SparvCorporaDir     string
	SparvEnviron        string
	SparvCommand        string
	SparvRun            string
	SparvInstall        string
	SparvUninstall      string
	SparvNohupFile      string
	SparvTmpRunScript   string
	SparvCorpusConfig   string
	SparvSourceDir      string
	SparvExportDir      string
	SparvWorkDir        string
	SparvDefaultExports []string

	// Downstream install targets
	KorpInstalls    []string
	KorpUninstalls  []string
	StrixInstalls   []string
	StrixUninstalls []string

	// Storage server (durable corpus artifacts)
	StorageHost string
	StorageUser string
	StorageDir  string

	// Queue advancing
	AdvanceEnabled  bool
	AdvanceSchedule string
	MinkSecretKey   string

	// CORS Configuration
	CORSAllowedOrigins   string
	CORSAllowedMethods   string
	CORSAllowedHeaders   string
	CORSAllowCredentials bool
	CORSMaxAge           int
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	instanceDir := getEnv("INSTANCE_DIR", "instance")

	return &Config{
		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 300) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Cache
		MemcachedAddr: getEnv("MEMCACHED_ADDR", "127.0.0.1:11211"),

		// Local files
		InstanceDir:    instanceDir,
		RegistryDir:    getEnv("REGISTRY_DIR", filepath.Join(instanceDir, "registry")),
		QueueFile:      getEnv("QUEUE_FILE", "queue"),
		TmpDir:         getEnv("TMP_DIR", filepath.Join(instanceDir, "tmp")),
		ResourcePrefix: getEnv("RESOURCE_PREFIX", "mink-"),

		// Upload limits
		MaxContentLength: getInt64Env("MAX_CONTENT_LENGTH", 1024*1024*100),
		MaxCorpusLength:  getInt64Env("MAX_CORPUS_LENGTH", 1024*1024*500),

		// Sparv server
		SSHKey:            getEnv("SSH_KEY", "~/.ssh/id_rsa"),
		SparvHost:         getEnv("SPARV_HOST", ""),
		SparvUser:         getEnv("SPARV_USER", ""),
		SparvWorkers:      getIntEnv("SPARV_WORKERS", 1),
		SparvCorporaDir:   getEnv("SPARV_CORPORA_DIR", "mink-data/corpus"),
		SparvEnviron:      getEnv("SPARV_ENVIRON", "SPARV_DATADIR=~/sparv-pipeline/data/"),
		SparvCommand:      getEnv("SPARV_COMMAND", "~/sparv-pipeline/venv/bin/python -u -m sparv"),
		SparvRun:          getEnv("SPARV_RUN", "run --json-log --log-to-file info"),
		SparvInstall:      getEnv("SPARV_INSTALL", "install --json-log --log-to-file info"),
		SparvUninstall:    getEnv("SPARV_UNINSTALL", "uninstall --log-to-file info"),
		SparvNohupFile:    getEnv("SPARV_NOHUP_FILE", "mink.out"),
		SparvTmpRunScript: getEnv("SPARV_TMP_RUN_SCRIPT", "run_sparv.sh"),
		SparvCorpusConfig: getEnv("SPARV_CORPUS_CONFIG", "config.yaml"),
		SparvSourceDir:    getEnv("SPARV_SOURCE_DIR", "source"),
		SparvExportDir:    getEnv("SPARV_EXPORT_DIR", "export"),
		SparvWorkDir:      getEnv("SPARV_WORK_DIR", "sparv-workdir"),
		SparvDefaultExports: getListEnv("SPARV_DEFAULT_EXPORTS",
			[]string{"xml_export:pretty", "csv_export:csv", "stats_export:freq_list"}),

		// Downstream installs
		KorpInstalls: getListEnv("SPARV_DEFAULT_KORP_INSTALLS",
			[]string{"korp:install_timespan", "korp:install_config", "korp:install_lemgrams"}),
		KorpUninstalls: getListEnv("SPARV_DEFAULT_KORP_UNINSTALLS",
			[]string{"cwb:uninstall_corpus", "korp:uninstall_timespan", "korp:uninstall_config", "korp:uninstall_lemgrams"}),
		StrixInstalls: getListEnv("SPARV_DEFAULT_STRIX_INSTALLS",
			[]string{"sbx_strix:install_config", "sbx_strix:install_corpus", "sbx_strix:install_xml"}),
		StrixUninstalls: getListEnv("SPARV_DEFAULT_STRIX_UNINSTALLS",
			[]string{"sbx_strix:uninstall_config", "sbx_strix:uninstall_corpus", "sbx_strix:uninstall_xml"}),

		// Storage server
		StorageHost: getEnv("STORAGE_HOST", ""),
		StorageUser: getEnv("STORAGE_USER", ""),
		StorageDir:  getEnv("STORAGE_DIR", "mink-data/storage"),

		// Queue advancing
		AdvanceEnabled:  getBoolEnv("ADVANCE_ENABLED", true),
		AdvanceSchedule: getEnv("ADVANCE_SCHEDULE", "@every 20s"),
		MinkSecretKey:   getEnv("MINK_SECRET_KEY", ""),

		// CORS
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		CORSAllowedMethods:   getEnv("CORS_ALLOWED_METHODS", "GET, POST, PUT, DELETE, OPTIONS, PATCH"),
		CORSAllowedHeaders:   getEnv("CORS_ALLOWED_HEADERS", "*"),
		CORSAllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getIntEnv("CORS_MAX_AGE", 3600),
	}
}

// CorpusDir returns the remote corpus directory for a resource on the
// Sparv server, relative to the Sparv user's home directory.
func (c *Config) CorpusDir(resourceID string) string {
	return c.SparvCorporaDir + "/" + resourceID
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
