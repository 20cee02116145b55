package utils

import (
	"time"
)

// Request-scoped context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	TimeoutKey   contextKey = "timeout"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Dispatch engine defaults
const (
	// DefaultAdmissionCap is the max number of waiting records admitted per admission tick
	DefaultAdmissionCap = 600

	DefaultAdmissionInterval      = 30 * time.Second
	DefaultDispatchInterval       = 1 * time.Second
	DefaultReconciliationInterval = 12 * time.Second

	// DefaultMessagesCountTick bounds recipients per SEND_SMS request
	DefaultMessagesCountTick = 100

	DefaultMaxPollAttempts = 300
	DefaultMaxSentAge      = 72 * time.Hour

	DefaultIdleWakeInterval = 5 * time.Minute
	DefaultLeaderLockTTL    = 90 * time.Second

	// DefaultCountryCode is used when a phone number is given in national format
	DefaultCountryCode = "98"

	// MaxAdminPageSize caps admin listing pages
	MaxAdminPageSize = 500
)
