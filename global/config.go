package global

import (
	"github.com/go-redis/redis_rate/v10"
)

// Conf global config
var Conf Config

// Global rate limiter
var RateLimiter *redis_rate.Limiter

type Config struct {
	Version    string           `yaml:"version"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	Scheme     string           `yaml:"scheme"`
	Mode       string           `yaml:"mode"` // debug or release
	CouchDB    CouchDBConfig    `yaml:"couchdb"`
	Redis      RedisConfig      `yaml:"redis"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Google     GoogleConfig     `yaml:"google"`
	Session    SessionConfig    `yaml:"session"`
	Custody    CustodyConfig    `yaml:"custody"`
	Queue      Queue            `yaml:"queue"`
	Cors       CorsConfig       `yaml:"cors"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
}

type CouchDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Scheme   string `yaml:"scheme"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// GoogleConfig holds the registered OAuth2 client credential and the provider
// endpoints. Endpoints are configurable so tests can point at a mock server.
type GoogleConfig struct {
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	RedirectURL  string   `yaml:"redirectUrl"`
	AuthURL      string   `yaml:"authUrl"`
	TokenURL     string   `yaml:"tokenUrl"`
	UserInfoURL  string   `yaml:"userInfoUrl"`
	Scopes       []string `yaml:"scopes"`
}

type SessionConfig struct {
	ServerKeysPath string `yaml:"serverKeysPath"`
	ExpiryDays     int    `yaml:"expiryDays"`
}

// CustodyConfig carries the operator-held master secret used to derive the
// wallet encryption key. The secret never comes from user input.
type CustodyConfig struct {
	MasterSecretHex string `yaml:"masterSecretHex"`
	EmailSaltHex    string `yaml:"emailSaltHex"`
}

type Queue struct {
	Concurrency int `yaml:"concurrency"`
}

type CorsConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// RecoveryConfig points at the excluded delivery collaborator which sends the
// one-time recovery code to the user (webhook with a shared key).
type RecoveryConfig struct {
	WebhookURL string `yaml:"webhookUrl"`
	WebhookKey string `yaml:"webhookKey"`
}
