// Package config loads application configuration from the environment.
//
// Values are read through viper with AutomaticEnv; a .env file, when present,
// is loaded into the environment by the binary before LoadConfig runs.
//
// Server:
//
//	PING_HOST="0.0.0.0"
//	PING_PORT="8000"
//	CORS_ORIGINS="https://ping.agaii.org,https://lammp.agaii.org"
//
// Stores:
//
//	DATABASE_URL="postgres://..."        # required
//	READ_DATABASE_URL="postgres://..."   # optional replica for reads
//	LAMMP_DB_PATH="/srv/lammp/app.db"    # optional, dashboard only
//	GAME_DB_URL="postgres://..."         # optional, dashboard only
//	REDIS_URL="redis://localhost:6379/0" # optional cache tier
//
// Dashboard:
//
//	DASHBOARD_SOURCE_TIMEOUT="3s"
//	DASHBOARD_CACHE_TTL="30s"  # 0 disables caching
//
// Auth:
//
//	JWT_SECRET, JWT_ACCESS_TTL, BCRYPT_COST, ADMIN_EMAIL, ADMIN_PASSWORD
package config
