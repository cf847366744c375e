// Package config はアプリケーションの設定を管理します
// 環境変数から設定を読み込み、デフォルト値を提供します
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIAddr           = ":8080"                          // APIサーバーのデフォルトリッスンアドレス
	defaultRedisAddr         = "localhost:6379"                 // セッションストア（Redis）のデフォルト接続先
	defaultDatabaseURL       = "file:civic.db?_foreign_keys=on" // デフォルトはローカルのSQLite
	defaultSessionCookie     = "session"                        // セッションCookie名
	defaultSessionTTLSec     = 24 * 60 * 60                     // セッションのスライディングTTL（1日）
	defaultHeartbeat         = 30 * time.Second                 // 死活監視の間隔
	defaultPersistTimeout    = 5 * time.Second                  // 保存処理のタイムアウト
	defaultEmergencyCacheTTL = 30 * time.Second                 // 緊急グループ一覧のキャッシュ期間
	defaultSendBuffer        = 256                              // 接続ごとの送信バッファ
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

// Config はアプリケーションの設定を保持します
type Config struct {
	APIAddr       string   // APIサーバーのリッスンアドレス
	RedisAddr     string   // Redisの接続先
	DatabaseURL   string   // postgres:// で始まる場合はPostgres、それ以外はSQLite
	AllowedOrigin []string // CORSで許可するオリジン一覧

	SessionCookie string // 認証に使うCookie名
	SessionTTL    int    // セッションTTL（秒）
	JWTSecret     string // 空の場合JWT認証は無効

	HeartbeatInterval time.Duration
	PersistTimeout    time.Duration
	EmergencyCacheTTL time.Duration
	SendBuffer        int

	LogLevel  string
	LogFile   string // 空の場合は標準出力のみ
	LogFormat string // text / json
}

// Load は環境変数から設定を読み込みます
// 環境変数が設定されていない場合はデフォルト値を使用します
func Load() Config {
	return Config{
		APIAddr:           envOr("API_ADDR", defaultAPIAddr),
		RedisAddr:         envOr("REDIS_ADDR", defaultRedisAddr),
		DatabaseURL:       envOr("DATABASE_URL", defaultDatabaseURL),
		AllowedOrigin:     envCSV("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		SessionCookie:     envOr("SESSION_COOKIE", defaultSessionCookie),
		SessionTTL:        envInt("SESSION_TTL_SEC", defaultSessionTTLSec),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		HeartbeatInterval: envDuration("HEARTBEAT_INTERVAL", defaultHeartbeat),
		PersistTimeout:    envDuration("PERSIST_TIMEOUT", defaultPersistTimeout),
		EmergencyCacheTTL: envDuration("EMERGENCY_CACHE_TTL", defaultEmergencyCacheTTL),
		SendBuffer:        envInt("WS_SEND_BUFFER", defaultSendBuffer),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		LogFile:           os.Getenv("LOG_FILE"),
		LogFormat:         envOr("LOG_FORMAT", "text"),
	}
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 環境変数が設定されていない、または無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i <= 0 {
			slog.Warn("invalid integer setting, using default", "key", key, "value", v, "default", def)
			return def
		}
		return i
	}
	return def
}

// envDuration は "30s" 形式、または秒数の整数を受け付けます
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	slog.Warn("invalid duration setting, using default", "key", key, "value", v, "default", def)
	return def
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
