// crispy/config/config.go
package config

const (
	AppVersion = "0.9.0"

	// Identifier Partitions
	PartitionSize = 1000000
	MinPrefix     = 1
	MaxPrefix     = 9

	// Form & Post Limits
	MaxContentLen     = 8000
	MaxBoardNameLen   = 10
	MaxDisplayNameLen = 75
	MaxImageAltLen    = 300

	// File Upload Limits
	MaxFileSize       = 10 * 1024 * 1024 // 10MB
	MaxUploadFiles    = 5
	MaxWidth          = 8000
	MaxHeight         = 8000
	ModLogQueueLength = 256

	// Rate Limiting Defaults
	DefaultRateLimitEvery  = "10s"
	DefaultRateLimitBurst  = 5
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"

	// Allocation & Request Defaults
	DefaultAllocLockTimeout = "5s"
	DefaultRequestTimeout   = "15s"
	DefaultRedisLockTTL     = "10s"
)
