package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (MESHRELAY_*).
// GEMINI_API_KEY is honored when MESHRELAY_GEMINI_API_KEY is unset.
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", os.Getenv("MESHRELAY_LOG_LEVEL"), &cfg.LogLevel)
	s.setBoolFromString("debug", os.Getenv("MESHRELAY_DEBUG"), &cfg.Debug)

	s.setString("listen-host", os.Getenv("MESHRELAY_LISTEN_HOST"), &cfg.ListenHost)
	if err := s.setIntFromStringZero("listen-port", os.Getenv("MESHRELAY_LISTEN_PORT"), &cfg.ListenPort); err != nil {
		return err
	}
	if err := s.setIntFromString("max-clients", os.Getenv("MESHRELAY_MAX_CLIENTS"), &cfg.MaxClients); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-size", os.Getenv("MESHRELAY_QUEUE_SIZE"), &cfg.QueueSize); err != nil {
		return err
	}

	s.setString("upstream-host", os.Getenv("MESHRELAY_UPSTREAM_HOST"), &cfg.UpstreamHost)
	if err := s.setIntFromString("upstream-port", os.Getenv("MESHRELAY_UPSTREAM_PORT"), &cfg.UpstreamPort); err != nil {
		return err
	}
	if err := s.setDuration("dial-timeout", os.Getenv("MESHRELAY_DIAL_TIMEOUT"), &cfg.DialTimeout); err != nil {
		return err
	}
	if err := s.setDuration("backoff-base", os.Getenv("MESHRELAY_BACKOFF_BASE"), &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.setDuration("backoff-max", os.Getenv("MESHRELAY_BACKOFF_MAX"), &cfg.BackoffMax); err != nil {
		return err
	}
	if err := s.setFloatFromString("backoff-jitter", os.Getenv("MESHRELAY_BACKOFF_JITTER"), &cfg.BackoffJitter); err != nil {
		return err
	}

	s.setString("trigger", os.Getenv("MESHRELAY_TRIGGER_PREFIX"), &cfg.TriggerPrefix)
	if err := s.setIntFromStringZero("bot-channel", os.Getenv("MESHRELAY_BOT_CHANNEL"), &cfg.BotChannel); err != nil {
		return err
	}
	if err := s.setDuration("response-delay", os.Getenv("MESHRELAY_RESPONSE_DELAY"), &cfg.ResponseDelay); err != nil {
		return err
	}
	if err := s.setDuration("ai-timeout", os.Getenv("MESHRELAY_AI_TIMEOUT"), &cfg.AITimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("max-pending", os.Getenv("MESHRELAY_MAX_PENDING"), &cfg.MaxPending); err != nil {
		return err
	}
	if err := s.setIntFromString("max-answer-bytes", os.Getenv("MESHRELAY_MAX_ANSWER_BYTES"), &cfg.MaxAnswerBytes); err != nil {
		return err
	}
	s.setBoolFromString("notify-failures", os.Getenv("MESHRELAY_NOTIFY_FAILURES"), &cfg.NotifyFailures)

	apiKey := os.Getenv("MESHRELAY_GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	s.setString("gemini-api-key", apiKey, &cfg.GeminiAPIKey)
	s.setString("gemini-model", os.Getenv("MESHRELAY_GEMINI_MODEL"), &cfg.GeminiModel)
	if err := s.setIntFromString("gemini-max-chars", os.Getenv("MESHRELAY_GEMINI_MAX_CHARS"), &cfg.GeminiMaxChars); err != nil {
		return err
	}

	s.setString("matrix-homeserver", os.Getenv("MESHRELAY_MATRIX_HOMESERVER"), &cfg.MatrixHomeserver)
	s.setString("matrix-user", os.Getenv("MESHRELAY_MATRIX_USER_ID"), &cfg.MatrixUserID)
	s.setString("matrix-token", os.Getenv("MESHRELAY_MATRIX_ACCESS_TOKEN"), &cfg.MatrixToken)
	s.setString("matrix-room", os.Getenv("MESHRELAY_MATRIX_ROOM_ID"), &cfg.MatrixRoomID)
	s.setBoolFromString("mirror-mesh", os.Getenv("MESHRELAY_MIRROR_MESH"), &cfg.MirrorMesh)

	s.setString("journal", os.Getenv("MESHRELAY_JOURNAL"), &cfg.JournalPath)

	return nil
}
