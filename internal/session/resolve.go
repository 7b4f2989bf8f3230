package session

import "github.com/matheus3301/chatsync/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	return resolve(flagOverride, ConfigPath())
}

func resolve(flagOverride, configPath string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(configPath)
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
