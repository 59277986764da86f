package constants

type contextKey string

const (
	PoolKey      contextKey = "pool"
	TxKey        contextKey = "tx"
	TenantIDKey  contextKey = "tenant_id"
	LoggerKey    contextKey = "logger"
	RequestIDKey contextKey = "request_id"
)
