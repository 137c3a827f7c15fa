package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:      "info",
			LogFormat:     "text",
			InboundBuffer: 100,
		},
		WhatsApp: WhatsAppConfig{
			StorePath:             "~/.zapbot/auth.db",
			PrintQR:               true,
			ClientIdentity:        []string{"Ubuntu", "Chrome", "22.04.4"},
			ProtocolVersion:       "auto",
			ConnectTimeoutSeconds: 30,
		},
		Backend: BackendConfig{
			TimeoutSeconds:    30,
			NoNamePlaceholder: "Sem Nome",
		},
		Reply: ReplyConfig{
			PacingMillis: 800,
			ChoiceHeader: "Escolha uma das opções:",
		},
		Reconnect: ReconnectConfig{
			Strategy:        "constant",
			DelaySeconds:    5,
			MaxDelaySeconds: 120,
		},
		Ops: OpsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
