package config

import (
	"errors"
	"os"
	"strings"
)

// Settings carries the process configuration that handlers and jobs need.
// It is loaded once in main() and passed into constructors; request paths
// never reach into the environment directly.
type Settings struct {
	Port string

	// CronSecret authorizes the scheduler's GET /jobs/* triggers.
	CronSecret string

	// GatewayProvider labels stored webhook events (e.g. "dinger", "kbzpay").
	GatewayProvider string

	CORSAllowedOrigins []string
	Production         bool

	StorageBucket string
}

func LoadSettings() (*Settings, error) {
	s := &Settings{
		Port:            strings.TrimSpace(os.Getenv("API_PORT")),
		CronSecret:      strings.TrimSpace(os.Getenv("CRON_SECRET")),
		GatewayProvider: strings.TrimSpace(os.Getenv("PAYMENT_GATEWAY_PROVIDER")),
		Production:      strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production"),
		StorageBucket:   strings.TrimSpace(os.Getenv("GCS_BUCKET")),
	}
	if s.Port == "" {
		// Cloud Run standard env var.
		s.Port = strings.TrimSpace(os.Getenv("PORT"))
	}
	if s.Port == "" {
		s.Port = "8080"
	}
	if s.GatewayProvider == "" {
		s.GatewayProvider = "dinger"
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.CORSAllowedOrigins = append(s.CORSAllowedOrigins, o)
			}
		}
	}
	if s.Production && s.CronSecret == "" {
		return nil, errors.New("CRON_SECRET is required in production")
	}
	return s, nil
}
