package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/cpunion/molt/pkg/llm"
)

// Env is the configuration read from the process environment.
type Env struct {
	llm.Config

	LogLevel string `env:"MOLT_LOG_LEVEL"`
}

// ParseEnv loads Env from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
