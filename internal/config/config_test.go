package config

import (
	"slices"
	"testing"
	"time"
)

var allKeys = []string{
	"TWINDECK_PORT", "TWINDECK_DROP_DIR", "TWINDECK_CACHE_SIZE", "TWINDECK_LOAD_TIMEOUT",
	"RESOLVER_API_URL", "RESOLVER_API_KEY", "RESOLVER_OUTPUT_DIR", "RESOLVER_TIMEOUT",
	"TWINDECK_CROSSFADER_CURVE",
	"AUTODJ_ENABLED", "AUTODJ_AUTOSTART", "AUTODJ_LEAD_TIME", "AUTODJ_MIX_DURATION",
	"AUTODJ_TIMEOUT", "AUTODJ_POLL", "AUTODJ_EASING",
	"TWINDECK_ANALYSIS_DB", "ANALYSIS_MIN_BPM", "ANALYSIS_MAX_BPM", "ANALYSIS_PREFERRED_BPM",
	"TWINDECK_STREAM_NAME", "TWINDECK_STREAM_BITRATE", "TWINDECK_OPUS_BITRATE",
	"TWINDECK_ICE_SERVERS", "TWINDECK_SPEAKER",
}

func clearEnv(t *testing.T) {
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.CacheSize != 8 {
		t.Errorf("CacheSize = %d, want 8", cfg.CacheSize)
	}
	if cfg.ResolverAPIURL != "" {
		t.Errorf("ResolverAPIURL = %q, want empty default", cfg.ResolverAPIURL)
	}
	if cfg.CrossfaderCurve != "smooth" {
		t.Errorf("CrossfaderCurve = %q, want smooth", cfg.CrossfaderCurve)
	}
	if cfg.AutoDJEnabled || !cfg.AutoDJAutoStart {
		t.Errorf("AutoDJ enabled/autostart = %v/%v, want false/true", cfg.AutoDJEnabled, cfg.AutoDJAutoStart)
	}
	if cfg.AutoDJLeadTime != 12*time.Second {
		t.Errorf("AutoDJLeadTime = %v, want 12s", cfg.AutoDJLeadTime)
	}
	if cfg.AutoDJMixDuration != 8*time.Second {
		t.Errorf("AutoDJMixDuration = %v, want 8s", cfg.AutoDJMixDuration)
	}
	if cfg.AutoDJTimeout != 30*time.Second {
		t.Errorf("AutoDJTimeout = %v, want 30s", cfg.AutoDJTimeout)
	}
	if cfg.AutoDJPoll != 100*time.Millisecond {
		t.Errorf("AutoDJPoll = %v, want 100ms", cfg.AutoDJPoll)
	}
	if cfg.MinBPM != 60 || cfg.MaxBPM != 200 || cfg.PreferredBPM != 120 {
		t.Errorf("BPM range = %v-%v pref %v", cfg.MinBPM, cfg.MaxBPM, cfg.PreferredBPM)
	}
	if cfg.AnalysisDB != "twindeck.db" {
		t.Errorf("AnalysisDB = %q", cfg.AnalysisDB)
	}
	if cfg.StreamBitrate != 192 || cfg.OpusBitrate != 128000 {
		t.Errorf("bitrates = %d/%d", cfg.StreamBitrate, cfg.OpusBitrate)
	}
	if cfg.ICEServers != nil || cfg.Speaker {
		t.Errorf("ICEServers = %v Speaker = %v", cfg.ICEServers, cfg.Speaker)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWINDECK_PORT", "9090")
	t.Setenv("TWINDECK_DROP_DIR", "/srv/drop")
	t.Setenv("RESOLVER_API_URL", "http://resolver:8000")
	t.Setenv("AUTODJ_ENABLED", "true")
	t.Setenv("AUTODJ_LEAD_TIME", "20")
	t.Setenv("AUTODJ_MIX_DURATION", "4.5")
	t.Setenv("AUTODJ_POLL", "250ms")
	t.Setenv("ANALYSIS_MAX_BPM", "180")
	t.Setenv("TWINDECK_ICE_SERVERS", "stun:a:3478, stun:b:3478,")
	t.Setenv("TWINDECK_SPEAKER", "1")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.DropDir != "/srv/drop" {
		t.Errorf("DropDir = %q", cfg.DropDir)
	}
	if cfg.ResolverAPIURL != "http://resolver:8000" {
		t.Errorf("ResolverAPIURL = %q", cfg.ResolverAPIURL)
	}
	if !cfg.AutoDJEnabled {
		t.Error("AutoDJEnabled = false, want true")
	}
	if cfg.AutoDJLeadTime != 20*time.Second {
		t.Errorf("AutoDJLeadTime = %v, want 20s", cfg.AutoDJLeadTime)
	}
	if cfg.AutoDJMixDuration != 4500*time.Millisecond {
		t.Errorf("AutoDJMixDuration = %v, want 4.5s", cfg.AutoDJMixDuration)
	}
	if cfg.AutoDJPoll != 250*time.Millisecond {
		t.Errorf("AutoDJPoll = %v, want 250ms", cfg.AutoDJPoll)
	}
	if cfg.MaxBPM != 180 {
		t.Errorf("MaxBPM = %v, want 180", cfg.MaxBPM)
	}
	if !slices.Equal(cfg.ICEServers, []string{"stun:a:3478", "stun:b:3478"}) {
		t.Errorf("ICEServers = %v", cfg.ICEServers)
	}
	if !cfg.Speaker {
		t.Error("Speaker = false, want true")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWINDECK_PORT", "not-a-number")
	t.Setenv("AUTODJ_LEAD_TIME", "soon")
	t.Setenv("ANALYSIS_MIN_BPM", "slow")
	t.Setenv("AUTODJ_ENABLED", "maybe")

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want fallback 8080", cfg.Port)
	}
	if cfg.AutoDJLeadTime != 12*time.Second {
		t.Errorf("AutoDJLeadTime = %v, want fallback 12s", cfg.AutoDJLeadTime)
	}
	if cfg.MinBPM != 60 {
		t.Errorf("MinBPM = %v, want fallback 60", cfg.MinBPM)
	}
	if cfg.AutoDJEnabled {
		t.Error("AutoDJEnabled should fall back to false")
	}
}
