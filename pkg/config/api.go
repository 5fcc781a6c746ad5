package config

import "time"

// APIConfig holds runtime configuration for the API service. It is built
// once in main and handed to the components that need it; there is no
// ambient global.
type APIConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string

	AccessTokenTTL   time.Duration
	PasswordResetTTL time.Duration

	// Cloud control plane endpoints and the pre-issued service token.
	CloudIdentityURL string
	CloudComputeURL  string
	CloudStorageURL  string
	CloudToken       string
	CloudDomainID    string
	CloudRoleID      string
	CloudCallTimeout time.Duration

	MaxProjectsPerUser int
	ResyncInterval     time.Duration

	MailHost string
	MailPort int
	MailFrom string

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://fob:fob@db:5432/fob?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     GetDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		PasswordResetTTL:   GetDuration("PASSWORD_RESET_TTL", 5*24*time.Hour),
		CloudIdentityURL:   GetString("CLOUD_IDENTITY_URL", "http://keystone:5000"),
		CloudComputeURL:    GetString("CLOUD_COMPUTE_URL", "http://nova:8774"),
		CloudStorageURL:    GetString("CLOUD_STORAGE_URL", "http://cinder:8776"),
		CloudToken:         GetString("CLOUD_TOKEN", ""),
		CloudDomainID:      GetString("CLOUD_DOMAIN_ID", "default"),
		CloudRoleID:        GetString("CLOUD_MEMBER_ROLE_ID", "member"),
		CloudCallTimeout:   GetDuration("CLOUD_CALL_TIMEOUT", 10*time.Second),
		MaxProjectsPerUser: GetInt("MAX_PROJECTS_PER_USER", 3),
		ResyncInterval:     GetDuration("QUOTA_RESYNC_INTERVAL", 15*time.Minute),
		MailHost:           GetString("MAIL_HOST", "localhost"),
		MailPort:           GetInt("MAIL_PORT", 25),
		MailFrom:           GetString("MAIL_FROM", "noreply@laboinfra.net"),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
