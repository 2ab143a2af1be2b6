package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	Tracker     TrackerConfig    `yaml:"tracker"`
	Segmenter   SegmenterConfig  `yaml:"segmenter"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Debounce    DebounceConfig   `yaml:"debounce"`
	Aggregator  AggregatorConfig `yaml:"aggregator"`
	Sinks       SinksConfig      `yaml:"sinks"`
	SessionLog  SessionLogConfig `yaml:"session_log"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`
}

// TrackerConfig describes the external landmark source feeding the pipeline.
type TrackerConfig struct {
	LandmarkCount int     `yaml:"landmark_count"`
	QualityFloor  float64 `yaml:"quality_floor"`
	IdleTimeoutMS int     `yaml:"idle_timeout_ms"`
}

// SegmenterConfig carries the motion-energy calibration for gesture boundary
// detection. These are calibration values, not protocol invariants; tune per
// tracker.
type SegmenterConfig struct {
	OnsetEnergy   float64 `yaml:"onset_energy"`
	OffsetEnergy  float64 `yaml:"offset_energy"`
	HoldTimeoutMS int     `yaml:"hold_timeout_ms"`
	MinFrames     int     `yaml:"min_frames"`
	MaxFrames     int     `yaml:"max_frames"`
}

type ClassifierConfig struct {
	Mode          string  `yaml:"mode"` // mock, rule, template, exec
	Command       string  `yaml:"command"`
	VocabPath     string  `yaml:"vocab_path"`
	TimeoutMS     int     `yaml:"timeout_ms"`
	MinConfidence float64 `yaml:"min_confidence"`
}

type DebounceConfig struct {
	AcceptConfidence    float64 `yaml:"accept_confidence"`
	OscillationWindowMS int     `yaml:"oscillation_window_ms"`
	HistorySize         int     `yaml:"history_size"`
}

type AggregatorConfig struct {
	CommitTimeoutMS int    `yaml:"commit_timeout_ms"`
	MaxTokens       int    `yaml:"max_tokens"`
	EndLabel        string `yaml:"end_label"`
}

type SinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Voice   string `yaml:"voice,omitempty"`
}

type SinksConfig struct {
	Text          SinkConfig `yaml:"text"`
	Speech        SinkConfig `yaml:"speech"`
	Visual        SinkConfig `yaml:"visual"`
	QueueCapacity int        `yaml:"queue_capacity"`
	DropOldest    bool       `yaml:"drop_oldest"`
	DeliverMS     int        `yaml:"deliver_timeout_ms"`
}

type SessionLogConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "sign-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "sign-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "recognizer.core"},
			},
		},
		Tracker: TrackerConfig{
			LandmarkCount: 21,
			QualityFloor:  0.5,
			IdleTimeoutMS: 5000,
		},
		Segmenter: SegmenterConfig{
			OnsetEnergy:   0.020,
			OffsetEnergy:  0.008,
			HoldTimeoutMS: 300,
			MinFrames:     3,
			MaxFrames:     150,
		},
		Classifier: ClassifierConfig{
			Mode:          "rule",
			TimeoutMS:     2000,
			MinConfidence: 0.2,
		},
		Debounce: DebounceConfig{
			AcceptConfidence:    0.7,
			OscillationWindowMS: 800,
			HistorySize:         6,
		},
		Aggregator: AggregatorConfig{
			CommitTimeoutMS: 1500,
			MaxTokens:       12,
			EndLabel:        "STOP",
		},
		Sinks: SinksConfig{
			Text:          SinkConfig{Enabled: true},
			Speech:        SinkConfig{Enabled: true},
			Visual:        SinkConfig{Enabled: true},
			QueueCapacity: 16,
			DropOldest:    true,
			DeliverMS:     3000,
		},
		SessionLog: SessionLogConfig{
			Path:          "./data/sign-sessions.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SIGN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SIGN_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SIGN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SIGN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SIGN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SIGN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SIGN_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "SIGN_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "SIGN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SIGN_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SIGN_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SIGN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SIGN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SIGN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SIGN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SIGN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SIGN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "SIGN_NODE_ID")
	overrideString(&cfg.Node.Role, "SIGN_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "SIGN_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "SIGN_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Tracker.LandmarkCount, "SIGN_TRACKER_LANDMARK_COUNT")
	overrideFloat(&cfg.Tracker.QualityFloor, "SIGN_TRACKER_QUALITY_FLOOR")
	overrideInt(&cfg.Tracker.IdleTimeoutMS, "SIGN_TRACKER_IDLE_TIMEOUT_MS")
	overrideFloat(&cfg.Segmenter.OnsetEnergy, "SIGN_SEGMENTER_ONSET_ENERGY")
	overrideFloat(&cfg.Segmenter.OffsetEnergy, "SIGN_SEGMENTER_OFFSET_ENERGY")
	overrideInt(&cfg.Segmenter.HoldTimeoutMS, "SIGN_SEGMENTER_HOLD_TIMEOUT_MS")
	overrideInt(&cfg.Segmenter.MinFrames, "SIGN_SEGMENTER_MIN_FRAMES")
	overrideInt(&cfg.Segmenter.MaxFrames, "SIGN_SEGMENTER_MAX_FRAMES")
	overrideString(&cfg.Classifier.Mode, "SIGN_CLASSIFIER_MODE")
	overrideString(&cfg.Classifier.Command, "SIGN_CLASSIFIER_COMMAND")
	overrideString(&cfg.Classifier.VocabPath, "SIGN_CLASSIFIER_VOCAB_PATH")
	overrideInt(&cfg.Classifier.TimeoutMS, "SIGN_CLASSIFIER_TIMEOUT_MS")
	overrideFloat(&cfg.Classifier.MinConfidence, "SIGN_CLASSIFIER_MIN_CONFIDENCE")
	overrideFloat(&cfg.Debounce.AcceptConfidence, "SIGN_DEBOUNCE_ACCEPT_CONFIDENCE")
	overrideInt(&cfg.Debounce.OscillationWindowMS, "SIGN_DEBOUNCE_OSCILLATION_WINDOW_MS")
	overrideInt(&cfg.Debounce.HistorySize, "SIGN_DEBOUNCE_HISTORY_SIZE")
	overrideInt(&cfg.Aggregator.CommitTimeoutMS, "SIGN_AGGREGATOR_COMMIT_TIMEOUT_MS")
	overrideInt(&cfg.Aggregator.MaxTokens, "SIGN_AGGREGATOR_MAX_TOKENS")
	overrideString(&cfg.Aggregator.EndLabel, "SIGN_AGGREGATOR_END_LABEL")
	overrideBool(&cfg.Sinks.Text.Enabled, "SIGN_SINKS_TEXT_ENABLED")
	overrideBool(&cfg.Sinks.Speech.Enabled, "SIGN_SINKS_SPEECH_ENABLED")
	overrideString(&cfg.Sinks.Speech.Voice, "SIGN_SINKS_SPEECH_VOICE")
	overrideBool(&cfg.Sinks.Visual.Enabled, "SIGN_SINKS_VISUAL_ENABLED")
	overrideInt(&cfg.Sinks.QueueCapacity, "SIGN_SINKS_QUEUE_CAPACITY")
	overrideBool(&cfg.Sinks.DropOldest, "SIGN_SINKS_DROP_OLDEST")
	overrideInt(&cfg.Sinks.DeliverMS, "SIGN_SINKS_DELIVER_TIMEOUT_MS")
	overrideString(&cfg.SessionLog.Path, "SIGN_SESSION_LOG_PATH")
	overrideString(&cfg.SessionLog.RetentionMode, "SIGN_SESSION_LOG_RETENTION_MODE")
	overrideInt(&cfg.SessionLog.RetentionDays, "SIGN_SESSION_LOG_RETENTION_DAYS")
	overrideInt(&cfg.SessionLog.MaxSessions, "SIGN_SESSION_LOG_MAX_SESSIONS")
	overrideBool(&cfg.SessionLog.VacuumOnStart, "SIGN_SESSION_LOG_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.Tracker.LandmarkCount <= 0 {
		return errors.New("tracker.landmark_count must be positive")
	}
	if cfg.Tracker.QualityFloor < 0 || cfg.Tracker.QualityFloor > 1 {
		return errors.New("tracker.quality_floor must be within [0,1]")
	}
	if cfg.Tracker.IdleTimeoutMS <= 0 {
		return errors.New("tracker.idle_timeout_ms must be positive")
	}
	if cfg.Segmenter.OnsetEnergy <= 0 {
		return errors.New("segmenter.onset_energy must be positive")
	}
	if cfg.Segmenter.OffsetEnergy <= 0 || cfg.Segmenter.OffsetEnergy >= cfg.Segmenter.OnsetEnergy {
		return errors.New("segmenter.offset_energy must be positive and below onset_energy")
	}
	if cfg.Segmenter.HoldTimeoutMS <= 0 {
		return errors.New("segmenter.hold_timeout_ms must be positive")
	}
	if cfg.Segmenter.MinFrames < 1 {
		return errors.New("segmenter.min_frames must be >= 1")
	}
	if cfg.Segmenter.MaxFrames <= cfg.Segmenter.MinFrames {
		return errors.New("segmenter.max_frames must be greater than min_frames")
	}
	switch cfg.Classifier.Mode {
	case "mock", "rule", "template", "exec":
	default:
		return errors.New("classifier.mode must be one of mock|rule|template|exec")
	}
	if cfg.Classifier.Mode == "exec" && cfg.Classifier.Command == "" {
		return errors.New("classifier.command must be set when mode=exec")
	}
	if cfg.Classifier.Mode == "template" && cfg.Classifier.VocabPath == "" {
		return errors.New("classifier.vocab_path must be set when mode=template")
	}
	if cfg.Classifier.TimeoutMS <= 0 {
		return errors.New("classifier.timeout_ms must be positive")
	}
	if cfg.Classifier.MinConfidence < 0 || cfg.Classifier.MinConfidence > 1 {
		return errors.New("classifier.min_confidence must be within [0,1]")
	}
	if cfg.Debounce.AcceptConfidence < 0 || cfg.Debounce.AcceptConfidence > 1 {
		return errors.New("debounce.accept_confidence must be within [0,1]")
	}
	if cfg.Debounce.OscillationWindowMS <= 0 {
		return errors.New("debounce.oscillation_window_ms must be positive")
	}
	if cfg.Debounce.HistorySize < 2 {
		return errors.New("debounce.history_size must be >= 2")
	}
	if cfg.Aggregator.CommitTimeoutMS <= 0 {
		return errors.New("aggregator.commit_timeout_ms must be positive")
	}
	if cfg.Aggregator.MaxTokens < 1 {
		return errors.New("aggregator.max_tokens must be >= 1")
	}
	if cfg.Sinks.QueueCapacity < 1 {
		return errors.New("sinks.queue_capacity must be >= 1")
	}
	if cfg.Sinks.DeliverMS <= 0 {
		return errors.New("sinks.deliver_timeout_ms must be positive")
	}
	if cfg.SessionLog.Path == "" {
		return errors.New("session_log.path must not be empty")
	}
	switch cfg.SessionLog.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("session_log.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.SessionLog.RetentionDays < 0 {
		return errors.New("session_log.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
