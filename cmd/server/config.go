package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maynagashev/beatmaps-cdn/internal/logging"
	"github.com/maynagashev/beatmaps-cdn/internal/storage"
)

// Типы файлового хранилища.
const (
	backendLocal = "local"
	backendMinio = "minio"
)

// Ключи конфигурации. Значение берется из одноименного флага, а если он не
// задан, из связанной переменной окружения.
const (
	keyListenHost       = "listen-host"
	keyListenPort       = "listen-port"
	keyCDNPrefix        = "cdn-prefix"
	keyDatabaseDSN      = "database-dsn"
	keyPostgresUser     = "postgres-user"
	keyPostgresPassword = "postgres-password"
	keyPostgresDB       = "postgres-db"
	keyPostgresHost     = "postgres-host"
	keyPostgresPort     = "postgres-port"
	keyRabbitURL        = "rabbitmq-url"
	keyStorageBackend   = "storage-backend"
	keyZipDir           = "zip-dir"
	keyCoverDir         = "cover-dir"
	keyAudioDir         = "audio-dir"
	keyAvatarDir        = "avatar-dir"
	keyPlaylistCoverDir = "playlist-cover-dir"
	keyShardPrefixLen   = "shard-prefix-len"
	keyStaticDir        = "static-dir"
	keyMinioEndpoint    = "minio-endpoint"
	keyMinioUser        = "minio-user"
	keyMinioPassword    = "minio-password" //nolint:gosec // Имя ключа, а не пароль
	keyMinioBucket      = "minio-bucket"
	keyMinioUseSSL      = "minio-use-ssl"
	keyLogLevel         = "log-level"
	keyLogFormat        = "log-format"
	keyLogFile          = "log-file"
	keyNotifyBuffer     = "notify-buffer"
	keyShutdownTimeout  = "shutdown-timeout"
)

// setting описывает один ключ конфигурации.
type setting struct {
	key   string
	env   string
	def   any
	usage string
}

var settings = []setting{
	{keyListenHost, "LISTEN_HOST", "127.0.0.1", "address to listen on"},
	{keyListenPort, "LISTEN_PORT", 3030, "port to listen on"},
	{keyCDNPrefix, "CDN_PREFIX", "", "instance name, the sync queue is cdn.<prefix> (required)"},
	{keyDatabaseDSN, "DATABASE_DSN", "", "Postgres DSN; built from the postgres-* settings when empty"},
	{keyPostgresUser, "POSTGRES_USER", "beatmaps", "Postgres user"},
	{keyPostgresPassword, "POSTGRES_PASSWORD", "secret", "Postgres password"},
	{keyPostgresDB, "POSTGRES_DB", "beatmaps", "Postgres database"},
	{keyPostgresHost, "POSTGRES_HOST", "localhost", "Postgres host"},
	{keyPostgresPort, "POSTGRES_PORT", 5432, "Postgres port"},
	{keyRabbitURL, "RABBITMQ_URL", "", "AMQP URL; sync and notifications are disabled when empty"},
	{keyStorageBackend, "STORAGE_BACKEND", backendLocal, "file storage backend: local or minio"},
	{keyZipDir, "ZIP_DIR", "data/zip", "map archive root"},
	{keyCoverDir, "COVER_DIR", "data/cover", "cover image root"},
	{keyAudioDir, "AUDIO_DIR", "data/audio", "audio preview root"},
	{keyAvatarDir, "AVATAR_DIR", "data/avatar", "user avatar root"},
	{keyPlaylistCoverDir, "PLAYLIST_COVER_DIR", "data/playlist", "playlist cover root"},
	{keyShardPrefixLen, "SHARD_PREFIX_LEN", 1, "identifier prefix length used as shard directory"},
	{keyStaticDir, "STATIC_DIR", "static", "site assets served under /static"},
	{keyMinioEndpoint, "MINIO_ENDPOINT", "localhost:9000", "MinIO endpoint"},
	{keyMinioUser, "MINIO_USER", "minioadmin", "MinIO access key"},
	{keyMinioPassword, "MINIO_PASSWORD", "minioadmin", "MinIO secret key"},
	{keyMinioBucket, "MINIO_BUCKET", "beatmaps-cdn", "MinIO bucket"},
	{keyMinioUseSSL, "MINIO_USE_SSL", false, "connect to MinIO over TLS"},
	{keyLogLevel, "LOG_LEVEL", "info", "log level: debug, info, warn, error"},
	{keyLogFormat, "LOG_FORMAT", "console", "log format: console or json"},
	{keyLogFile, "LOG_FILE", "", "also write JSON logs to this file, rotated"},
	{keyNotifyBuffer, "NOTIFY_BUFFER", 1024, "pending download notifications kept before dropping"},
	{keyShutdownTimeout, "SHUTDOWN_TIMEOUT", 10 * time.Second, "graceful shutdown limit"},
}

// config содержит конфигурацию сервера.
type config struct {
	ListenAddr      string
	CDNPrefix       string
	DatabaseDSN     string
	RabbitURL       string
	StorageBackend  string
	Layout          storage.Layout
	StaticDir       string
	Minio           storage.MinioConfig
	Log             logging.Config
	NotifyBuffer    int
	ShutdownTimeout time.Duration
}

// bindSettings регистрирует флаг для каждой настройки и связывает в v
// флаг, переменную окружения и значение по умолчанию.
func bindSettings(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	for _, s := range settings {
		switch def := s.def.(type) {
		case string:
			flags.String(s.key, def, s.usage)
		case int:
			flags.Int(s.key, def, s.usage)
		case bool:
			flags.Bool(s.key, def, s.usage)
		case time.Duration:
			flags.Duration(s.key, def, s.usage)
		default:
			return fmt.Errorf("setting %s: unsupported default %T", s.key, s.def)
		}

		if err := v.BindPFlag(s.key, flags.Lookup(s.key)); err != nil {
			return fmt.Errorf("binding flag %s: %w", s.key, err)
		}
		if err := v.BindEnv(s.key, s.env); err != nil {
			return fmt.Errorf("binding env %s: %w", s.env, err)
		}
		v.SetDefault(s.key, s.def)
	}
	return nil
}

// loadDotEnv загружает .env-файлы из рабочего каталога, отсутствующие пропускаются.
// Уже заданные переменные окружения не перезаписываются.
func loadDotEnv() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// loadConfig читает конфигурацию из v и проверяет ее.
func loadConfig(v *viper.Viper) (*config, error) {
	cfg := &config{
		ListenAddr:     net.JoinHostPort(v.GetString(keyListenHost), strconv.Itoa(v.GetInt(keyListenPort))),
		CDNPrefix:      v.GetString(keyCDNPrefix),
		DatabaseDSN:    v.GetString(keyDatabaseDSN),
		RabbitURL:      v.GetString(keyRabbitURL),
		StorageBackend: v.GetString(keyStorageBackend),
		StaticDir:      v.GetString(keyStaticDir),
		Layout: storage.Layout{
			ZipDir:           v.GetString(keyZipDir),
			CoverDir:         v.GetString(keyCoverDir),
			AudioDir:         v.GetString(keyAudioDir),
			AvatarDir:        v.GetString(keyAvatarDir),
			PlaylistCoverDir: v.GetString(keyPlaylistCoverDir),
			ShardPrefixLen:   v.GetInt(keyShardPrefixLen),
		},
		Minio: storage.MinioConfig{
			Endpoint:        v.GetString(keyMinioEndpoint),
			AccessKeyID:     v.GetString(keyMinioUser),
			SecretAccessKey: v.GetString(keyMinioPassword),
			UseSSL:          v.GetBool(keyMinioUseSSL),
			BucketName:      v.GetString(keyMinioBucket),
		},
		Log: logging.Config{
			Level:  v.GetString(keyLogLevel),
			Format: v.GetString(keyLogFormat),
			File:   v.GetString(keyLogFile),
		},
		NotifyBuffer:    v.GetInt(keyNotifyBuffer),
		ShutdownTimeout: v.GetDuration(keyShutdownTimeout),
	}

	if cfg.CDNPrefix == "" {
		return nil, errors.New("cdn prefix is required (--cdn-prefix or CDN_PREFIX)")
	}
	if cfg.StorageBackend != backendLocal && cfg.StorageBackend != backendMinio {
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if cfg.Layout.ShardPrefixLen <= 0 {
		return nil, fmt.Errorf("shard prefix length must be positive, got %d", cfg.Layout.ShardPrefixLen)
	}
	if cfg.NotifyBuffer <= 0 {
		return nil, fmt.Errorf("notify buffer must be positive, got %d", cfg.NotifyBuffer)
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = postgresDSN(v)
	}
	return cfg, nil
}

// postgresDSN собирает DSN из настроек postgres-*.
func postgresDSN(v *viper.Viper) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.GetString(keyPostgresUser), v.GetString(keyPostgresPassword)),
		Host:     net.JoinHostPort(v.GetString(keyPostgresHost), strconv.Itoa(v.GetInt(keyPostgresPort))),
		Path:     "/" + v.GetString(keyPostgresDB),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
