package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Overrides are values that usually live outside the config file.
type Overrides struct {
	Title         string `env:"SQUIRE_TITLE"`
	LogLevel      string `env:"SQUIRE_LOG_LEVEL"`
	HTTPToken     string `env:"SQUIRE_HTTP_TOKEN"`
	TelegramToken string `env:"SQUIRE_TELEGRAM_TOKEN"`
	AWSRegion     string `env:"SQUIRE_AWS_REGION"`
	SpeechURL     string `env:"SQUIRE_SPEECH_URL"`
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; existing variables are not overwritten.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config) error {
	var o Overrides
	if err := env.Parse(&o); err != nil {
		return err
	}
	o.apply(cfg)
	return nil
}

func (o Overrides) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Title, o.Title)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.HTTP.Token, o.HTTPToken)
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Secrets.AWS.Region, o.AWSRegion)
	set(&cfg.Delivery.Speech.URL, o.SpeechURL)
}
