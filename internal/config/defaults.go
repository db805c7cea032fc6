package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:        "",
			Port:        3009,
			WebhookPath: "/webhook",
			Greeting:    "hello world",
		},
		LINE: LINEConfig{
			APIBase:        "https://api.line.me",
			DataAPIBase:    "https://api-data.line.me",
			TimeoutSeconds: 30,
		},
		AI: AIConfig{
			Provider:       "gemini",
			Model:          "gemini-1.5-flash",
			TimeoutSeconds: 120,
		},
		Storage: StorageConfig{
			Backend:  "supabase",
			Bucket:   "uploads",
			Prefix:   "line_images",
			LocalDir: "~/.linegem/objects",
		},
		Records: RecordsConfig{
			Backend: "supabase",
			Table:   "messages",
			DBPath:  "~/.linegem/records.db",
		},
		Supabase: SupabaseConfig{
			TimeoutSeconds: 30,
		},
		Dedupe: DedupeConfig{
			Backend:    "none",
			TTLSeconds: 86400,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
