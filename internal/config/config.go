package config

// Config holds client configuration values.
type Config struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	Room        string `mapstructure:"room" yaml:"room"`
	Audio       bool   `mapstructure:"audio" yaml:"audio"`
	AudioDevice string `mapstructure:"audio_device" yaml:"audio_device"`
	Player      string `mapstructure:"player" yaml:"player"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	HistoryPath string `mapstructure:"history_path" yaml:"history_path"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Host:     "localhost",
		Port:     80,
		Audio:    true,
		Player:   "mpv",
		LogLevel: "info",
	}
}
