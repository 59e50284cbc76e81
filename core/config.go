package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Env      string
		Debug    bool
		TestMode bool
		Build    string
		AppName  string

		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail mail.Address
		SendgridAPIKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Scoring  ScoringConfig
		Exam     ExamConfig
	}

	ServerConfig struct {
		Host                      string
		APIAddr                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		DisableTLS    bool
	}

	RedisConfig struct {
		Addr     string
		Password string
		Disabled bool
	}

	ScoringConfig struct {
		BaseURL string
		Timeout time.Duration
	}

	// ExamConfig groups the session-runtime knobs: countdown resync cadence,
	// focus polling, fullscreen delays and submission retry policy.
	ExamConfig struct {
		SyncInterval         time.Duration
		FocusPollInterval    time.Duration
		FullscreenEnterDelay time.Duration
		FullscreenRetryDelay time.Duration
		SubmitRetries        int
		SubmitRetryBackoff   time.Duration
	}
)

func (db DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%s", db.Host, db.Port)
}

func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Mtihani")
	v.SetDefault("secretKey", "w#0t2$kml-yj9+idz&u(h!x)#*c2(#yg4h^$cegm2emy&5s=dz")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAPIAddr", ":8000")
	v.SetDefault("serverDebugHost", "localhost:4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbName", "mtihani")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("redisAddr", "localhost:6379")
	v.SetDefault("redisDisabled", false)
	v.SetDefault("scoringBaseURL", "http://localhost:8100")
	v.SetDefault("scoringTimeout", 10*time.Second)
	v.SetDefault("examSyncInterval", 30*time.Second)
	v.SetDefault("examFocusPollInterval", 2*time.Second)
	v.SetDefault("examFullscreenEnterDelay", time.Second)
	v.SetDefault("examFullscreenRetryDelay", 100*time.Millisecond)
	v.SetDefault("examSubmitRetries", 3)
	v.SetDefault("examSubmitRetryBackoff", 500*time.Millisecond)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         env == "TEST",
		Build:            v.GetString("build"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{Address: v.GetString("defaultFromEmail")},
		SendgridAPIKey:   v.GetString("sendgridAPIKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			APIAddr:                   v.GetString("serverAPIAddr"),
			DebugHost:                 v.GetString("serverDebugHost"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redisAddr"),
			Password: v.GetString("redisPassword"),
			Disabled: v.GetBool("redisDisabled"),
		},
		Scoring: ScoringConfig{
			BaseURL: v.GetString("scoringBaseURL"),
			Timeout: v.GetDuration("scoringTimeout"),
		},
		Exam: ExamConfig{
			SyncInterval:         v.GetDuration("examSyncInterval"),
			FocusPollInterval:    v.GetDuration("examFocusPollInterval"),
			FullscreenEnterDelay: v.GetDuration("examFullscreenEnterDelay"),
			FullscreenRetryDelay: v.GetDuration("examFullscreenRetryDelay"),
			SubmitRetries:        v.GetInt("examSubmitRetries"),
			SubmitRetryBackoff:   v.GetDuration("examSubmitRetryBackoff"),
		},
	}
}
