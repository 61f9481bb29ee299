package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nightfeed/mazeshow/game/maze"
	"github.com/nightfeed/mazeshow/game/patrol"
	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Security  SecurityConfig  `mapstructure:"security"`
	Game      GameConfig      `mapstructure:"game"`
	Economy   EconomyConfig   `mapstructure:"economy"`
	Patrol    PatrolConfig    `mapstructure:"patrol"`
	Maze      maze.GenConfig  `mapstructure:"maze"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
	// AdminKeyHash is a bcrypt hash of the X-Admin-Key value. Empty disables
	// the admin API.
	AdminKeyHash  string   `mapstructure:"admin_key_hash"`
	AdminAllowIPs []string `mapstructure:"admin_allow_ips"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | sqlite_memory | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
	// SlowQuery is the threshold above which statements are logged at warn.
	// Zero disables slow-query logging.
	SlowQuery time.Duration `mapstructure:"slow_query"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
	ScoreTTL        time.Duration `mapstructure:"score_ttl"`
	HistoryLen      int           `mapstructure:"history_len"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTL         time.Duration `mapstructure:"jwt_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type GameConfig struct {
	FrameMs         int     `mapstructure:"frame_ms"`
	RoomSize        int     `mapstructure:"room_size"`
	AgentSpeed      float64 `mapstructure:"agent_speed"`
	Monsters        int     `mapstructure:"monsters"`
	MaxArenas       int     `mapstructure:"max_arenas"`
	LeaderboardSize int     `mapstructure:"leaderboard_size"`
}

type EconomyConfig struct {
	Mode         string        `mapstructure:"mode"` // linear | exponential
	AddAmount    float64       `mapstructure:"add_amount"`
	RemoveAmount float64       `mapstructure:"remove_amount"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	DecayStep    float64       `mapstructure:"decay_step"`
}

type PatrolConfig struct {
	WalkRange        float64       `mapstructure:"walk_range"`
	PauseTimeRange   time.Duration `mapstructure:"pause_time_range"`
	LegacyMovingFlag bool          `mapstructure:"legacy_moving_flag"`
	ContinuousPause  bool          `mapstructure:"continuous_pause"`
}

type TelemetryConfig struct {
	OutputDir      string        `mapstructure:"output_dir"` // empty disables file output
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
}

// Viewers converts the economy section into an economy config.
func (c EconomyConfig) Viewers() (viewers.Config, error) {
	mode, err := viewers.ParseMode(c.Mode)
	if err != nil {
		return viewers.Config{}, fmt.Errorf("config: economy: %w", err)
	}
	return viewers.Config{
		Mode:         mode,
		AddAmount:    c.AddAmount,
		RemoveAmount: c.RemoveAmount,
		TickInterval: c.TickInterval,
		DecayStep:    c.DecayStep,
	}, nil
}

// Patrol converts the patrol section into a patrol config.
func (c PatrolConfig) Patrol() patrol.Config {
	return patrol.Config{
		WalkRange:        c.WalkRange,
		PauseTimeRange:   c.PauseTimeRange,
		Mask:             ^uint32(0),
		LegacyMovingFlag: c.LegacyMovingFlag,
		ContinuousPause:  c.ContinuousPause,
	}
}

// ArenaDefaults builds the arena template new arenas start from.
func (c *Config) ArenaDefaults() (world.ArenaConfig, error) {
	econ, err := c.Economy.Viewers()
	if err != nil {
		return world.ArenaConfig{}, err
	}
	return world.ArenaConfig{
		Maze:       c.Maze,
		RoomSize:   c.Game.RoomSize,
		AgentSpeed: c.Game.AgentSpeed,
		Monsters:   c.Game.Monsters,
		Frame:      time.Duration(c.Game.FrameMs) * time.Millisecond,
		Economy:    econ,
		Patrol:     c.Patrol.Patrol(),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/mazeshow.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("database.slow_query", "200ms")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("cache.score_ttl", "10m")
	v.SetDefault("cache.history_len", 120)
	v.SetDefault("security.jwt_ttl", "2h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("game.frame_ms", 50)
	v.SetDefault("game.room_size", 5)
	v.SetDefault("game.agent_speed", 3.5)
	v.SetDefault("game.monsters", 3)
	v.SetDefault("game.max_arenas", 32)
	v.SetDefault("game.leaderboard_size", 10)
	v.SetDefault("economy.mode", "linear")
	v.SetDefault("economy.add_amount", 1.0)
	v.SetDefault("economy.remove_amount", 0.5)
	v.SetDefault("economy.tick_interval", "1s")
	v.SetDefault("economy.decay_step", 0.01)
	v.SetDefault("patrol.walk_range", 10.0)
	v.SetDefault("patrol.pause_time_range", "3s")
	v.SetDefault("patrol.continuous_pause", false)
	v.SetDefault("maze.width", 16)
	v.SetDefault("maze.height", 16)
	v.SetDefault("maze.threshold", 0.45)
	v.SetDefault("maze.frequency", 0.18)
	v.SetDefault("maze.octaves", 3)
	v.SetDefault("telemetry.sample_interval", "5s")
	v.SetDefault("telemetry.batch_size", 100)
	v.SetDefault("telemetry.flush_interval", "2s")
}

// secretKeys have no default but are usually supplied through the
// environment, so they are bound explicitly for Unmarshal to see them.
var secretKeys = []string{
	"server.admin_key_hash",
	"database.mysql_dsn",
	"cache.redis_addr",
	"cache.redis_password",
	"security.jwt_secret",
}

// Load reads config from the given YAML file path. Any key can be
// overridden by MAZESHOW_<SECTION>_<KEY>, e.g. MAZESHOW_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAZESHOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range secretKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return decode(v)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err) // defaults are static
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if _, err := viewers.ParseMode(cfg.Economy.Mode); err != nil {
		return nil, fmt.Errorf("config: economy: %w", err)
	}
	return cfg, nil
}
