package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Sources
	DropDir     string        // watched folder; new audio files are queued
	CacheSize   int           // decoded tracks kept in memory
	LoadTimeout time.Duration // resolve + decode budget per load

	// Remote resolver (optional)
	ResolverAPIURL    string
	ResolverAPIKey    string
	ResolverOutputDir string
	ResolverTimeout   time.Duration

	// Mixer
	CrossfaderCurve string

	// Auto DJ
	AutoDJEnabled     bool
	AutoDJAutoStart   bool
	AutoDJLeadTime    time.Duration
	AutoDJMixDuration time.Duration
	AutoDJTimeout     time.Duration
	AutoDJPoll        time.Duration
	AutoDJEasing      string

	// Analysis
	AnalysisDB   string // sqlite cache path, "" disables caching
	MinBPM       float64
	MaxBPM       float64
	PreferredBPM float64

	// Outputs
	StreamName    string
	StreamBitrate int // kbps MP3
	OpusBitrate   int // bps
	ICEServers    []string
	Speaker       bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("TWINDECK_PORT", 8080),

		DropDir:     envStr("TWINDECK_DROP_DIR", ""),
		CacheSize:   envInt("TWINDECK_CACHE_SIZE", 8),
		LoadTimeout: envDuration("TWINDECK_LOAD_TIMEOUT", 60*time.Second),

		ResolverAPIURL:    envStr("RESOLVER_API_URL", ""),
		ResolverAPIKey:    envStr("RESOLVER_API_KEY", ""),
		ResolverOutputDir: envStr("RESOLVER_OUTPUT_DIR", ""),
		ResolverTimeout:   envDuration("RESOLVER_TIMEOUT", 45*time.Second),

		CrossfaderCurve: envStr("TWINDECK_CROSSFADER_CURVE", "smooth"),

		AutoDJEnabled:     envBool("AUTODJ_ENABLED", false),
		AutoDJAutoStart:   envBool("AUTODJ_AUTOSTART", true),
		AutoDJLeadTime:    envDuration("AUTODJ_LEAD_TIME", 12*time.Second),
		AutoDJMixDuration: envDuration("AUTODJ_MIX_DURATION", 8*time.Second),
		AutoDJTimeout:     envDuration("AUTODJ_TIMEOUT", 30*time.Second),
		AutoDJPoll:        envDuration("AUTODJ_POLL", 100*time.Millisecond),
		AutoDJEasing:      envStr("AUTODJ_EASING", "smoothstep"),

		AnalysisDB:   envStr("TWINDECK_ANALYSIS_DB", "twindeck.db"),
		MinBPM:       envFloat("ANALYSIS_MIN_BPM", 60),
		MaxBPM:       envFloat("ANALYSIS_MAX_BPM", 200),
		PreferredBPM: envFloat("ANALYSIS_PREFERRED_BPM", 120),

		StreamName:    envStr("TWINDECK_STREAM_NAME", "twindeck"),
		StreamBitrate: envInt("TWINDECK_STREAM_BITRATE", 192),
		OpusBitrate:   envInt("TWINDECK_OPUS_BITRATE", 128000),
		ICEServers:    envList("TWINDECK_ICE_SERVERS"),
		Speaker:       envBool("TWINDECK_SPEAKER", false),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("1m30s") or plain seconds ("90", "0.5").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
