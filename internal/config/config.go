// Package config предоставляет структуры и функции для загрузки YAML-конфига сервисов.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	Webhook                 `yaml:"webhook"`
	Processing              `yaml:"processing"`
	BlobStorage             `yaml:"blob_storage"`
	Pricing                 `yaml:"pricing"`
	RateLimit               `yaml:"rate_limit"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	MaxUploadMB int64         `yaml:"max_upload_mb" env-default:"100"`
}

// RedisConnection структура для настройки подключения к redis.
// Пустой адрес отключает кеш статусов.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"2s"`
	StatusTTL    time.Duration `yaml:"status_ttl" env-default:"10m"`
}

// JWTToken структура для проверки jwt-токенов клиентов
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	Issuer       string        `yaml:"issuer" env-default:"mixmaster"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// RabbitMQ настройки брокера
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	JobsQueue  string        `yaml:"jobs_queue" env-default:"jobs.dispatch"`
	Prefetch   int           `yaml:"prefetch" env-default:"4"`
}

// Webhook настройки приёма уведомлений платёжного провайдера
type Webhook struct {
	Secret    string        `yaml:"secret" env:"WEBHOOK_SECRET"`
	Tolerance time.Duration `yaml:"tolerance" env-default:"5m"`
}

// Способы передачи задач воркерам.
const (
	DispatchInProcess = "inprocess"
	DispatchAMQP      = "amqp"
)

// Processing настройки обработки задач
type Processing struct {
	StageTimeout   time.Duration `yaml:"stage_timeout" env-default:"5m"`
	MaxJobDuration time.Duration `yaml:"max_job_duration" env-default:"30m"`
	Workers        int           `yaml:"workers" env-default:"4"`
	Dispatch       string        `yaml:"dispatch" env-default:"inprocess"`
	ReaperInterval time.Duration `yaml:"reaper_interval" env-default:"1m"`
	ExpireInterval time.Duration `yaml:"expire_interval" env-default:"15m"`
	DSPURL         string        `yaml:"dsp_url" env:"DSP_URL"`
	DSPTimeout     time.Duration `yaml:"dsp_timeout" env-default:"10m"`
}

// BlobStorage настройки S3-совместимого хранилища файлов.
// Пустой Bucket включает локальное хранилище для разработки.
type BlobStorage struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region" env-default:"us-east-1"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string        `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	PresignTTL      time.Duration `yaml:"presign_ttl" env-default:"1h"`
}

// Pricing настройки тарифов
type Pricing struct {
	CentsPerCredit int64 `yaml:"cents_per_credit" env-default:"500"`
}

// RateLimit настройки ограничения частоты запросов на аккаунт
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"5"`
	Burst int     `yaml:"burst" env-default:"10"`
}

// Load читает конфиг из файла path и переменных окружения.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	if path == "" {
		return nil, fmt.Errorf("%s: empty config path", op)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad загружает конфиг из файла, указанного в CONFIG_PATH, и завершает процесс при ошибке.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.Dispatch {
	case DispatchInProcess:
	case DispatchAMQP:
		if c.RabbitMQ.URL == "" {
			return errors.New("rabbitmq.url is required for amqp dispatch")
		}
	default:
		return fmt.Errorf("unknown processing.dispatch %q", c.Dispatch)
	}
	if c.StageTimeout <= 0 || c.MaxJobDuration <= 0 {
		return errors.New("processing timeouts must be positive")
	}
	if c.CentsPerCredit <= 0 {
		return errors.New("pricing.cents_per_credit must be positive")
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"MigrationsPath: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  Password: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"JWTToken:\n"+
			"  JWTSecretKey: %s\n"+
			"  Issuer: %s\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n"+
			"  JobsQueue: %s\n"+
			"Webhook:\n"+
			"  Secret: %s\n"+
			"  Tolerance: %s\n"+
			"Processing:\n"+
			"  Dispatch: %s\n"+
			"  Workers: %d\n"+
			"  StageTimeout: %s\n"+
			"  MaxJobDuration: %s\n"+
			"  DSPURL: %s\n"+
			"BlobStorage:\n"+
			"  Bucket: %s\n"+
			"  Endpoint: %s\n"+
			"  AccessKeyID: %s\n"+
			"  SecretAccessKey: %s\n"+
			"Pricing:\n"+
			"  CentsPerCredit: %d\n",
		c.Env,
		mask(c.StorageConnectionString),
		c.MigrationsPath,
		c.AddressRedis,
		mask(c.Password),
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		mask(c.JWTSecretKey),
		c.Issuer,
		mask(c.RabbitMQ.URL),
		c.JobsQueue,
		mask(c.Webhook.Secret),
		c.Tolerance,
		c.Dispatch,
		c.Workers,
		c.StageTimeout,
		c.MaxJobDuration,
		c.DSPURL,
		c.Bucket,
		c.Endpoint,
		mask(c.AccessKeyID),
		mask(c.SecretAccessKey),
		c.CentsPerCredit,
	)
}
