/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT                 = "5001"
	DEFAULT_PUSH_GATEWAY_URL     = "https://exp.host/--/api/v2/push/send"
	DEFAULT_PUSH_TIMEOUT_SEC     = 10
	DEFAULT_PAYMENT_ACTION_URL   = "https://test.payu.in/_payment"
	DEFAULT_CONFIRMATION_DELAY   = 3000
	DEFAULT_PUSH_QUEUE           = "order_push"
	DEFAULT_MONITORING_PORT      = "5004"
	DEFAULT_SESSION_TTL_SEC      = 1800
	DEFAULT_CONFIRMATION_VIEW    = "/orders/confirmation"
	DEFAULT_SUCCESS_CALLBACK_URL = "/payments/payu/success"
	DEFAULT_FAILURE_CALLBACK_URL = "/payments/payu/failure"
)

// ConfigStore holds the loaded *Configuration.
var ConfigStore atomic.Value

// ServerConfig controls the HTTP listener and TLS.
type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"ORDERSYNC_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"ORDERSYNC_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ORDERSYNC_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"ORDERSYNC_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"ORDERSYNC_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"ORDERSYNC_SERVER_PORT"`
	// BaseURL is the externally reachable address the gateway redirects to.
	BaseURL string `json:"base_url" envconfig:"ORDERSYNC_SERVER_BASE_URL"`
}

// DataSourceConfig points at the Postgres order store.
type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ORDERSYNC_DATA_SOURCE_DNS"`
}

// RedisConfig points at Redis. Dns may list several comma separated
// addresses for a cluster.
type RedisConfig struct {
	Dns string `json:"dns" envconfig:"ORDERSYNC_REDIS_DNS"`
}

// PushConfig configures the push gateway client.
type PushConfig struct {
	GatewayURL string            `json:"gateway_url" envconfig:"ORDERSYNC_PUSH_GATEWAY_URL"`
	TimeoutSec int               `json:"timeout_sec" envconfig:"ORDERSYNC_PUSH_TIMEOUT_SEC"`
	Headers    map[string]string `json:"headers"`
}

// PaymentConfig holds the gateway credentials and redirect targets.
type PaymentConfig struct {
	Key       string `json:"key" envconfig:"ORDERSYNC_PAYMENT_KEY"`
	Salt      string `json:"salt" envconfig:"ORDERSYNC_PAYMENT_SALT"`
	ActionURL string `json:"action_url" envconfig:"ORDERSYNC_PAYMENT_ACTION_URL"`
	// SuccessURL and FailureURL are the surl/furl handed to the gateway.
	SuccessURL string `json:"success_url" envconfig:"ORDERSYNC_PAYMENT_SUCCESS_URL"`
	FailureURL string `json:"failure_url" envconfig:"ORDERSYNC_PAYMENT_FAILURE_URL"`
	// ConfirmationDelayMs is how long the success page waits before moving
	// to the confirmation view.
	ConfirmationDelayMs int      `json:"confirmation_delay_ms" envconfig:"ORDERSYNC_PAYMENT_CONFIRMATION_DELAY_MS"`
	ConfirmationView    string   `json:"confirmation_view" envconfig:"ORDERSYNC_PAYMENT_CONFIRMATION_VIEW"`
	SessionTTLSec       int      `json:"session_ttl_sec" envconfig:"ORDERSYNC_PAYMENT_SESSION_TTL_SEC"`
	WalletSchemes       []string `json:"wallet_schemes" envconfig:"ORDERSYNC_PAYMENT_WALLET_SCHEMES"`
}

// QueueConfig configures the asynq workers.
type QueueConfig struct {
	PushQueue      string `json:"push_queue" envconfig:"ORDERSYNC_QUEUE_PUSH_QUEUE"`
	MonitoringPort string `json:"monitoring_port" envconfig:"ORDERSYNC_QUEUE_MONITORING_PORT"`
	Concurrency    int    `json:"concurrency" envconfig:"ORDERSYNC_QUEUE_CONCURRENCY"`
}

// RateLimitConfig enables request rate limiting when RequestsPerSecond is set.
type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ORDERSYNC_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ORDERSYNC_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ORDERSYNC_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

// SlackWebhook is where operator alerts are posted.
type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"ORDERSYNC_SLACK_WEBHOOK_URL"`
}

// Notification groups the operator alert channels.
type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Endpoint    string `json:"endpoint" envconfig:"ORDERSYNC_TRACING_ENDPOINT"`
	ServiceName string `json:"service_name" envconfig:"ORDERSYNC_TRACING_SERVICE_NAME"`
}

// Configuration is the full service configuration.
type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"ORDERSYNC_PROJECT_NAME"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Push            PushConfig       `json:"push"`
	Payment         PaymentConfig    `json:"payment"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
	Tracing         TracingConfig    `json:"tracing"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"ORDERSYNC_ENABLE_TELEMETRY"`
	PosthogKey      string           `json:"posthog_key" envconfig:"ORDERSYNC_POSTHOG_KEY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	loadDotEnv(filepath.Dir(file))

	// override config from environment variables
	err = envconfig.Process("ordersync", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

// loadDotEnv loads a .env file next to the config file, or in the working
// directory. Variables already set in the environment win.
func loadDotEnv(dir string) {
	for _, candidate := range []string{filepath.Join(dir, ".env"), ".env"} {
		if _, err := os.Stat(candidate); err == nil {
			if err := godotenv.Load(candidate); err != nil {
				log.Printf("failed to load %s: %v", candidate, err)
			}
			return
		}
	}
}

// InitConfig loads configFile, applies environment overrides and stores the
// result for Fetch.
func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

// Fetch returns the stored configuration, or an error if InitConfig has not
// succeeded yet.
func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called ordersync.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		cnf.ProjectName = "Order Sync"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Payment.Key = strings.TrimSpace(cnf.Payment.Key)
	cnf.Payment.Salt = strings.TrimSpace(cnf.Payment.Salt)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}
	if cnf.Server.BaseURL == "" {
		cnf.Server.BaseURL = "http://localhost:" + cnf.Server.Port
	}
	cnf.Server.BaseURL = strings.TrimRight(cnf.Server.BaseURL, "/")

	cnf.setPushDefaults()
	cnf.setPaymentDefaults()
	cnf.setQueueDefaults()
	cnf.setRateLimitDefaults()

	if cnf.Tracing.ServiceName == "" {
		cnf.Tracing.ServiceName = "ordersync"
	}

	return nil
}

func (cnf *Configuration) setPushDefaults() {
	if cnf.Push.GatewayURL == "" {
		cnf.Push.GatewayURL = DEFAULT_PUSH_GATEWAY_URL
	}
	if cnf.Push.TimeoutSec <= 0 {
		cnf.Push.TimeoutSec = DEFAULT_PUSH_TIMEOUT_SEC
	}
}

func (cnf *Configuration) setPaymentDefaults() {
	if cnf.Payment.Key == "" || cnf.Payment.Salt == "" {
		log.Println("Warning: payment key or salt not set. Checkout will be unavailable.")
	}
	if cnf.Payment.ActionURL == "" {
		cnf.Payment.ActionURL = DEFAULT_PAYMENT_ACTION_URL
	}
	if cnf.Payment.SuccessURL == "" {
		cnf.Payment.SuccessURL = cnf.Server.BaseURL + DEFAULT_SUCCESS_CALLBACK_URL
	}
	if cnf.Payment.FailureURL == "" {
		cnf.Payment.FailureURL = cnf.Server.BaseURL + DEFAULT_FAILURE_CALLBACK_URL
	}
	if cnf.Payment.ConfirmationDelayMs <= 0 {
		cnf.Payment.ConfirmationDelayMs = DEFAULT_CONFIRMATION_DELAY
	}
	if cnf.Payment.ConfirmationView == "" {
		cnf.Payment.ConfirmationView = DEFAULT_CONFIRMATION_VIEW
	}
	if cnf.Payment.SessionTTLSec <= 0 {
		cnf.Payment.SessionTTLSec = DEFAULT_SESSION_TTL_SEC
	}
	if len(cnf.Payment.WalletSchemes) == 0 {
		cnf.Payment.WalletSchemes = []string{"upi", "gpay", "phonepe", "paytm"}
	}
}

func (cnf *Configuration) setQueueDefaults() {
	if cnf.Queue.PushQueue == "" {
		cnf.Queue.PushQueue = DEFAULT_PUSH_QUEUE
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 10
	}
}

func (cnf *Configuration) setRateLimitDefaults() {
	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}
}

// PaymentConfigured reports whether checkout has the credentials it needs
// to sign a request.
func (cnf *Configuration) PaymentConfigured() bool {
	return cnf.Payment.Key != "" && cnf.Payment.Salt != ""
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
