package config

import "github.com/spf13/viper"

const (
	ArchiveAuto     = "auto"
	ArchivePostgres = "postgres"
	ArchiveMongo    = "mongo"
	ArchiveMemory   = "memory"
)

type Config struct {
	ServerPort    string `mapstructure:"SERVER_PORT"`
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`

	// TrackFile is a TOML circuit definition; empty selects the built-in track.
	TrackFile         string  `mapstructure:"TRACK_FILE"`
	HistoryCapacity   int     `mapstructure:"HISTORY_CAPACITY"`
	UrgentThreshold   float64 `mapstructure:"URGENT_THRESHOLD"`
	CriticalThreshold float64 `mapstructure:"CRITICAL_THRESHOLD"`
	LightThreshold    float64 `mapstructure:"LIGHT_THRESHOLD"`

	ArchiveLimit   int    `mapstructure:"ARCHIVE_LIMIT"`
	ArchiveBackend string `mapstructure:"ARCHIVE_BACKEND"`

	MQTTBroker      string `mapstructure:"MQTT_BROKER"`
	MQTTClientID    string `mapstructure:"MQTT_CLIENT_ID"`
	MQTTTopicPrefix string `mapstructure:"MQTT_TOPIC_PREFIX"`
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SERVER_PORT", ":8080")
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DATABASE", "etaone")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("TRACK_FILE", "")
	v.SetDefault("HISTORY_CAPACITY", 1000)
	v.SetDefault("URGENT_THRESHOLD", 10)
	v.SetDefault("CRITICAL_THRESHOLD", 5)
	v.SetDefault("LIGHT_THRESHOLD", 2)
	v.SetDefault("ARCHIVE_LIMIT", 50)
	v.SetDefault("ARCHIVE_BACKEND", ArchiveAuto)
	v.SetDefault("MQTT_BROKER", "")
	v.SetDefault("MQTT_CLIENT_ID", "etaone-api")
	v.SetDefault("MQTT_TOPIC_PREFIX", "etaone")

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}
