// Package config reads triage settings from the environment. Every problem is
// collected before returning, so one error lists all of them.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/retry"
)

// Config holds the runtime configuration.
type Config struct {
	DBPath          string
	CredentialsPath string
	OffLimits       []string

	WebhookURL string
	Channel    string

	EngineCommand   string
	EngineArgs      []string
	EngineTimeout   time.Duration
	EngineKillGrace time.Duration
	EngineModel     string

	Timezone     string
	Location     *time.Location
	BriefingHour int
	CheckHour    int
	ReportHour   int

	FollowUpDays       int
	ThreadCapacity     int
	RetryMaxAttempts   int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	ComputeMemoryMB    int
	AlertAfterFailures int

	RulesFile string
	LogLevel  string
}

// Scope selects which settings are mandatory.
type Scope int

const (
	// ScopeLocal covers commands that only read local state.
	ScopeLocal Scope = iota
	// ScopeRun covers commands that talk to Gmail, the engine or the
	// escalation channel.
	ScopeRun
)

// Load reads the process environment.
func Load(scope Scope) (*Config, error) {
	return FromEnv(os.Getenv, scope)
}

// FromEnv reads settings through getenv, applies defaults and validates.
func FromEnv(getenv func(string) string, scope Scope) (*Config, error) {
	p := &parser{getenv: getenv}
	cfg := &Config{
		DBPath:          getenv("TRIAGE_DB"),
		CredentialsPath: getenv("GMAIL_CREDENTIALS"),
		OffLimits:       splitList(getenv("OFF_LIMITS_CONTACTS"), ","),
		WebhookURL:      strings.TrimSpace(getenv("ESCALATION_WEBHOOK_URL")),
		Channel:         p.str("ESCALATION_CHANNEL", "sms"),
		EngineCommand:   strings.TrimSpace(getenv("ENGINE_COMMAND")),
		EngineArgs:      strings.Fields(getenv("ENGINE_ARGS")),
		EngineModel:     p.str("ENGINE_MODEL", "sonnet"),
		Timezone:        p.str("TRIAGE_TIMEZONE", "America/New_York"),
		RulesFile:       getenv("RULES_FILE"),
		LogLevel:        p.str("LOG_LEVEL", "info"),
	}
	cfg.EngineTimeout = p.duration("ENGINE_TIMEOUT", 13*time.Minute)
	cfg.EngineKillGrace = p.duration("ENGINE_KILL_GRACE", 5*time.Second)
	cfg.BriefingHour = p.integer("BRIEFING_HOUR", 7)
	cfg.CheckHour = p.integer("CHECK_HOUR", 13)
	cfg.ReportHour = p.integer("REPORT_HOUR", 17)
	cfg.FollowUpDays = p.integer("FOLLOW_UP_DAYS", 3)
	cfg.ThreadCapacity = p.integer("THREAD_CAPACITY", 5000)
	cfg.RetryMaxAttempts = p.integer("RETRY_MAX_ATTEMPTS", retry.DefaultMaxRetries)
	cfg.RetryInitialDelay = p.duration("RETRY_INITIAL_DELAY", retry.DefaultInitialDelay)
	cfg.RetryMaxDelay = p.duration("RETRY_MAX_DELAY", retry.DefaultMaxDelay)
	cfg.ComputeMemoryMB = p.integer("COMPUTE_MEMORY_MB", 1024)
	cfg.AlertAfterFailures = p.integer("ALERT_AFTER_FAILURES", 3)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("TRIAGE_TIMEZONE: unknown timezone %q", cfg.Timezone))
		loc = time.UTC
	}
	cfg.Location = loc

	problems := append(p.problems, cfg.validate(scope)...)
	if len(problems) > 0 {
		return nil, terrors.NewConfigInvalid(problems)
	}
	return cfg, nil
}

func (c *Config) validate(scope Scope) []string {
	var problems []string

	if scope == ScopeRun {
		if c.CredentialsPath == "" {
			problems = append(problems, "GMAIL_CREDENTIALS is required")
		} else if _, err := os.Stat(c.CredentialsPath); err != nil {
			problems = append(problems, fmt.Sprintf("GMAIL_CREDENTIALS: %s not readable", c.CredentialsPath))
		}
		if len(c.OffLimits) == 0 {
			problems = append(problems, "OFF_LIMITS_CONTACTS is required")
		}
		if c.WebhookURL == "" {
			problems = append(problems, "ESCALATION_WEBHOOK_URL is required")
		}
		if c.EngineCommand == "" {
			problems = append(problems, "ENGINE_COMMAND is required")
		}
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, "ESCALATION_WEBHOOK_URL must be an http(s) URL")
		}
	}
	for _, entry := range c.OffLimits {
		if strings.ContainsAny(entry, " <>") {
			problems = append(problems, fmt.Sprintf("OFF_LIMITS_CONTACTS: %q is not an address or domain", entry))
		}
	}

	if c.EngineTimeout <= 0 {
		problems = append(problems, "ENGINE_TIMEOUT must be positive")
	}
	if c.EngineKillGrace < 0 {
		problems = append(problems, "ENGINE_KILL_GRACE must not be negative")
	}

	hours := map[string]int{"BRIEFING_HOUR": c.BriefingHour, "CHECK_HOUR": c.CheckHour, "REPORT_HOUR": c.ReportHour}
	for _, name := range []string{"BRIEFING_HOUR", "CHECK_HOUR", "REPORT_HOUR"} {
		if h := hours[name]; h < 0 || h > 23 {
			problems = append(problems, fmt.Sprintf("%s must be between 0 and 23 (got %d)", name, h))
		}
	}
	if c.BriefingHour == c.CheckHour || c.CheckHour == c.ReportHour || c.BriefingHour == c.ReportHour {
		problems = append(problems, "BRIEFING_HOUR, CHECK_HOUR and REPORT_HOUR must be distinct")
	}

	if c.FollowUpDays <= 0 {
		problems = append(problems, "FOLLOW_UP_DAYS must be positive")
	}
	if c.ThreadCapacity < 0 {
		problems = append(problems, "THREAD_CAPACITY must not be negative")
	}
	if c.RetryMaxAttempts < 1 {
		problems = append(problems, "RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetryInitialDelay < 0 {
		problems = append(problems, "RETRY_INITIAL_DELAY must not be negative")
	}
	if c.RetryMaxDelay <= 0 {
		problems = append(problems, "RETRY_MAX_DELAY must be positive")
	}
	if c.ComputeMemoryMB <= 0 {
		problems = append(problems, "COMPUTE_MEMORY_MB must be positive")
	}
	if c.AlertAfterFailures < 1 {
		problems = append(problems, "ALERT_AFTER_FAILURES must be at least 1")
	}
	if c.RulesFile != "" {
		if _, err := os.Stat(c.RulesFile); err != nil {
			problems = append(problems, fmt.Sprintf("RULES_FILE: %s not readable", c.RulesFile))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("LOG_LEVEL: unknown level %q", c.LogLevel))
	}
	return problems
}

// FollowUpThreshold is FollowUpDays as a duration.
func (c *Config) FollowUpThreshold() time.Duration {
	return time.Duration(c.FollowUpDays) * 24 * time.Hour
}

// RetryOptions builds the retry policy for external calls.
func (c *Config) RetryOptions() retry.Options {
	return retry.Options{
		MaxRetries:        c.RetryMaxAttempts,
		InitialDelay:      c.RetryInitialDelay,
		MaxDelay:          c.RetryMaxDelay,
		BackoffMultiplier: retry.DefaultBackoffMultiplier,
		Condition:         retry.Transient(),
	}
}

type parser struct {
	getenv   func(string) string
	problems []string
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
}
