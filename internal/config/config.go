package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/paygrid/settlecore/internal/models"
)

// Config carries every tunable the core needs. It is built once in main and
// passed into each component at construction; nothing reads viper afterwards.
type Config struct {
	Server         Server
	Database       Database
	Redis          Redis
	Ledger         Ledger
	Channels       Channels
	Idempotency    Idempotency
	Reconciliation Reconciliation
}

type Server struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Database struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Redis struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Ledger names the internal clearing accounts. The holding account parks
// reserved funds between reservation and settlement; each external channel
// settles against its own nostro account so outbound debits stay balanced.
type Ledger struct {
	HoldingAccount string
	NostroAccounts map[models.Channel]string
}

// Window is a daily operating window in minutes since midnight, local time.
// Start == End means always open.
type Window struct {
	Start int
	End   int
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Start == w.End {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	// window wraps midnight
	return m >= w.Start || m < w.End
}

type Channels struct {
	UPI  UPIChannel
	RTGS RTGSChannel
	NEFT NEFTChannel
}

type UPIChannel struct {
	Endpoint    string
	MaxAmount   int64 // per-transaction ceiling, minor units
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

type RTGSChannel struct {
	Endpoint  string
	MinAmount int64 // minimum amount threshold, minor units
	Window    Window
	BICFI     string // our institution identifier on pacs.008 messages
	Timeout   time.Duration
}

type NEFTChannel struct {
	PartnerEndpoint string
	PartnerID       string
	Window          Window
	CycleInterval   time.Duration
	Timeout         time.Duration
}

type Idempotency struct {
	Retention time.Duration // keys may be recycled after this window
}

type Reconciliation struct {
	SLA time.Duration // pending records past this become UNRESOLVED
}

// Load reads configuration from .env / the environment with sane defaults.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("channels.upi.endpoint", "UPI_ENDPOINT")
	viper.BindEnv("channels.rtgs.endpoint", "RTGS_ENDPOINT")
	viper.BindEnv("channels.neft.partner_endpoint", "NEFT_PARTNER_ENDPOINT")
	viper.BindEnv("channels.neft.partner_id", "NEFT_PARTNER_ID")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.idle_timeout", 60*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "settlecore")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("ledger.holding_account", "9000000001")
	viper.SetDefault("ledger.nostro.neft", "9100000001")
	viper.SetDefault("ledger.nostro.rtgs", "9200000001")
	viper.SetDefault("ledger.nostro.upi", "9300000001")

	viper.SetDefault("channels.upi.endpoint", "http://localhost:9301/upi/pay")
	viper.SetDefault("channels.upi.max_amount", int64(10_000_000)) // 1,00,000.00 in minor units
	viper.SetDefault("channels.upi.timeout", 5*time.Second)
	viper.SetDefault("channels.upi.max_retries", 3)
	viper.SetDefault("channels.upi.backoff_base", 200*time.Millisecond)

	viper.SetDefault("channels.rtgs.endpoint", "http://localhost:9201/rtgs/submit")
	viper.SetDefault("channels.rtgs.min_amount", int64(20_000_000)) // 2,00,000.00 floor
	viper.SetDefault("channels.rtgs.window_start", 7*60)
	viper.SetDefault("channels.rtgs.window_end", 18*60)
	viper.SetDefault("channels.rtgs.bicfi", "PAYGRIDX")
	viper.SetDefault("channels.rtgs.timeout", 10*time.Second)

	viper.SetDefault("channels.neft.partner_endpoint", "http://localhost:9101/neft/batch")
	viper.SetDefault("channels.neft.partner_id", "PAYGRID")
	viper.SetDefault("channels.neft.window_start", 8*60)
	viper.SetDefault("channels.neft.window_end", 19*60)
	viper.SetDefault("channels.neft.cycle_interval", 30*time.Minute)
	viper.SetDefault("channels.neft.timeout", 30*time.Second)

	viper.SetDefault("idempotency.retention", 24*time.Hour)
	viper.SetDefault("reconciliation.sla", 2*time.Hour)

	return &Config{
		Server: Server{
			Port:         viper.GetString("server.port"),
			ReadTimeout:  viper.GetDuration("server.read_timeout"),
			WriteTimeout: viper.GetDuration("server.write_timeout"),
			IdleTimeout:  viper.GetDuration("server.idle_timeout"),
		},
		Database: Database{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: Redis{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Ledger: Ledger{
			HoldingAccount: viper.GetString("ledger.holding_account"),
			NostroAccounts: map[models.Channel]string{
				models.ChannelNEFT: viper.GetString("ledger.nostro.neft"),
				models.ChannelRTGS: viper.GetString("ledger.nostro.rtgs"),
				models.ChannelUPI:  viper.GetString("ledger.nostro.upi"),
			},
		},
		Channels: Channels{
			UPI: UPIChannel{
				Endpoint:    viper.GetString("channels.upi.endpoint"),
				MaxAmount:   viper.GetInt64("channels.upi.max_amount"),
				Timeout:     viper.GetDuration("channels.upi.timeout"),
				MaxRetries:  viper.GetInt("channels.upi.max_retries"),
				BackoffBase: viper.GetDuration("channels.upi.backoff_base"),
			},
			RTGS: RTGSChannel{
				Endpoint:  viper.GetString("channels.rtgs.endpoint"),
				MinAmount: viper.GetInt64("channels.rtgs.min_amount"),
				Window: Window{
					Start: viper.GetInt("channels.rtgs.window_start"),
					End:   viper.GetInt("channels.rtgs.window_end"),
				},
				BICFI:   viper.GetString("channels.rtgs.bicfi"),
				Timeout: viper.GetDuration("channels.rtgs.timeout"),
			},
			NEFT: NEFTChannel{
				PartnerEndpoint: viper.GetString("channels.neft.partner_endpoint"),
				PartnerID:       viper.GetString("channels.neft.partner_id"),
				Window: Window{
					Start: viper.GetInt("channels.neft.window_start"),
					End:   viper.GetInt("channels.neft.window_end"),
				},
				CycleInterval: viper.GetDuration("channels.neft.cycle_interval"),
				Timeout:       viper.GetDuration("channels.neft.timeout"),
			},
		},
		Idempotency: Idempotency{
			Retention: viper.GetDuration("idempotency.retention"),
		},
		Reconciliation: Reconciliation{
			SLA: viper.GetDuration("reconciliation.sla"),
		},
	}
}
