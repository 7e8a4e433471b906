package constants

import (
	"time"
)

// SSH defaults
const (
	DefaultSSHPort        = 22
	DefaultConnectTimeout = 10 * time.Second
	DefaultCompress       = true
	DefaultShell          = "/bin/bash"

	SudoPrompt   = "[sudo] password: "
	SudoSentinel = "Sorry, try again.\n"
)

// Connection types
const (
	ConnTypeSSH  = "ssh"
	ConnTypeHTTP = "http"
)

// Webhook defaults
const (
	DefaultHTTPSchema     = "http"
	WebhookTokenExtraKey  = "webhook_token"
	JSONContentType       = "application/json"
	CustomPostTypePrefix  = "custom_"
	DefaultWebhookTimeout = 30 * time.Second
)

// Store defaults
const (
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"
	DefaultSQLiteFile      = "opshooks.db"

	DefaultTaskResultsTable = "task_results"
	DefaultTaskRunsTable    = "task_runs"

	TaskResultsSuffix = "_task_results"
	TaskRunsSuffix    = "_task_runs"

	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)

// Sensor polling defaults used by the reference host
const (
	DefaultPokeInterval = 60 * time.Second
	DefaultPokeTimeout  = 7 * 24 * time.Hour
)

// MaxTriggerDepth bounds runs started from trigger tasks of triggered runs.
const MaxTriggerDepth = 5

// EnvPrefix prefixes every environment variable read by the CLI.
const EnvPrefix = "OPSHOOKS"
