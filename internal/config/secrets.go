package config

// RedactedConfig returns a copy of cfg with credentials replaced by "***".
// Venue and event slices are copied so the result can be mutated freely.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Venues = make([]VenueConfig, len(cfg.Venues))
	for i, v := range cfg.Venues {
		redact(&v.APIKey)
		redact(&v.APISecret)
		v.Assets = append([]string(nil), v.Assets...)
		out.Venues[i] = v
	}
	out.Engine.Assets = append([]string(nil), cfg.Engine.Assets...)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)

	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
