// Package config assembles a typed, immutable configuration snapshot from
// the environment at startup.
//
// Every environment read happens in one explicit loader so the rest of the
// engine never touches os.Getenv directly.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Tier controls whether ingest additionally stores a compressed mean vector.
type Tier string

const (
	TierFast   Tier = "fast"
	TierHybrid Tier = "hybrid"
	TierSmart  Tier = "smart"
)

// EmbedKind selects the primary embedding provider.
type EmbedKind string

const (
	EmbedSynthetic EmbedKind = "synthetic"
	EmbedOpenAI    EmbedKind = "openai"
	EmbedGemini    EmbedKind = "gemini"
	EmbedOllama    EmbedKind = "ollama"
	EmbedAWS       EmbedKind = "aws"
	EmbedFastEmbed EmbedKind = "fastembed"
)

// ScoringWeights are the hybrid-score term weights.
type ScoringWeights struct {
	Similarity float64
	Overlap    float64
	Waypoint   float64
	Recency    float64
	Tag        float64
	KeywordBoost float64
}

// ReinforcementWeights tune trace reinforcement and co-activation.
type ReinforcementWeights struct {
	TraceBoost        float64 // 0.18
	AssociativeFactor float64 // 0.18
	CoactivationEta   float64 // 0.1
	CoactivationTau   time.Duration
	WaypointBoost     float64
	MaxWaypointWeight float64
}

// DecaySectorLambdas holds per-sector decay rate constants.
type DecaySectorLambdas map[string]float64

// Config is the immutable, fully-resolved engine configuration.
type Config struct {
	DBURL    string
	PGSchema string
	PGTable  string

	EmbedKind          EmbedKind
	EmbeddingFallback  []EmbedKind
	VecDim             int
	MaxVectorDim       int
	MinVectorDim       int
	SegSize            int
	Tier               Tier

	DecayInterval       time.Duration
	DecayRatio          float64
	DecayColdThreshold  float64
	DecaySectorLambdas  DecaySectorLambdas

	ReflectInterval time.Duration
	// ReflectMin is the minimum number of memories in the scan window
	// before a reflection pass runs at all.
	ReflectMin   int
	ReflectLimit int
	AutoReflect  bool

	MaintenanceInterval time.Duration
	StatsRetentionDays  int

	Scoring       ScoringWeights
	Reinforcement ReinforcementWeights

	EncryptionEnabled   bool
	EncryptionKey       string
	EncryptionSecondary []string

	SummaryMaxLength int
	UseSummaryOnly   bool
	KeywordBoost     float64

	// DiversifyEnabled turns on the optional MMR diversification pass over
	// search results. DiversifyLambda trades relevance
	// against novelty.
	DiversifyEnabled bool
	DiversifyLambda  float64

	OpenAIAPIKey    string
	OpenAIModel     string
	GeminiAPIKey    string
	GeminiModel     string
	OllamaHost      string
	OllamaModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	AWSRegion       string
	AWSBedrockModel string
}

// Load builds a Config snapshot from the process environment, applying
// defaults for anything unset.
func Load() Config {
	c := Default()
	if v := os.Getenv("db_url"); v != "" {
		c.DBURL = v
	}
	if v := os.Getenv("pg_schema"); v != "" {
		c.PGSchema = v
	}
	if v := os.Getenv("pg_table"); v != "" {
		c.PGTable = v
	}
	if v := os.Getenv("emb_kind"); v != "" {
		c.EmbedKind = EmbedKind(strings.ToLower(v))
	}
	if v := os.Getenv("embedding_fallback"); v != "" {
		parts := strings.Split(v, ",")
		c.EmbeddingFallback = nil
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				c.EmbeddingFallback = append(c.EmbeddingFallback, EmbedKind(strings.ToLower(p)))
			}
		}
	}
	c.VecDim = envInt("vec_dim", c.VecDim)
	c.MaxVectorDim = envInt("max_vector_dim", c.MaxVectorDim)
	c.MinVectorDim = envInt("min_vector_dim", c.MinVectorDim)
	c.SegSize = envInt("seg_size", c.SegSize)
	if v := os.Getenv("tier"); v != "" {
		c.Tier = Tier(strings.ToLower(v))
	}
	c.DecayInterval = envDuration("decay_interval", c.DecayInterval)
	c.DecayRatio = envFloat("decay_ratio", c.DecayRatio)
	c.DecayColdThreshold = envFloat("decay_cold_threshold", c.DecayColdThreshold)
	for _, s := range []string{"episodic", "semantic", "procedural", "emotional", "reflective"} {
		c.DecaySectorLambdas[s] = envFloat("decay_"+s, c.DecaySectorLambdas[s])
	}
	c.ReflectInterval = envDuration("reflect_interval", c.ReflectInterval)
	c.ReflectMin = envInt("reflect_min", c.ReflectMin)
	c.ReflectLimit = envInt("reflect_limit", c.ReflectLimit)
	c.AutoReflect = envBool("auto_reflect", c.AutoReflect)
	if n, err := strconv.Atoi(os.Getenv("maintenance_interval_hours")); err == nil {
		c.MaintenanceInterval = time.Duration(n) * time.Hour
	} else {
		c.MaintenanceInterval = envDuration("maintenance_interval_hours", c.MaintenanceInterval)
	}
	c.StatsRetentionDays = envInt("stats_retention_days", c.StatsRetentionDays)

	c.Scoring.Similarity = envFloat("scoring_similarity", c.Scoring.Similarity)
	c.Scoring.Overlap = envFloat("scoring_overlap", c.Scoring.Overlap)
	c.Scoring.Waypoint = envFloat("scoring_waypoint", c.Scoring.Waypoint)
	c.Scoring.Recency = envFloat("scoring_recency", c.Scoring.Recency)
	c.Scoring.Tag = envFloat("scoring_tag", c.Scoring.Tag)
	c.Scoring.KeywordBoost = envFloat("keyword_boost", c.Scoring.KeywordBoost)

	c.Reinforcement.TraceBoost = envFloat("reinf_trace_boost", c.Reinforcement.TraceBoost)
	c.Reinforcement.AssociativeFactor = envFloat("reinf_associative_factor", c.Reinforcement.AssociativeFactor)
	c.Reinforcement.CoactivationEta = envFloat("reinf_coact_eta", c.Reinforcement.CoactivationEta)
	c.Reinforcement.WaypointBoost = envFloat("reinf_waypoint_boost", c.Reinforcement.WaypointBoost)
	c.Reinforcement.MaxWaypointWeight = envFloat("reinf_max_waypoint_weight", c.Reinforcement.MaxWaypointWeight)

	c.EncryptionEnabled = envBool("encryption_enabled", c.EncryptionEnabled)
	if v := os.Getenv("encryption_key"); v != "" {
		c.EncryptionKey = v
	}
	if v := os.Getenv("encryption_secondary_keys"); v != "" {
		c.EncryptionSecondary = strings.Split(v, ",")
	}

	c.SummaryMaxLength = envInt("summary_max_length", c.SummaryMaxLength)
	c.UseSummaryOnly = envBool("use_summary_only", c.UseSummaryOnly)
	c.KeywordBoost = envFloat("keyword_boost", c.KeywordBoost)
	c.DiversifyEnabled = envBool("diversify_enabled", c.DiversifyEnabled)
	c.DiversifyLambda = envFloat("diversify_lambda", c.DiversifyLambda)

	c.OpenAIAPIKey = firstNonEmptyEnv("OPENAI_API_KEY", "OPENAI_KEY")
	c.OpenAIModel = envOr("OPENAI_EMBED_MODEL", c.OpenAIModel)
	c.GeminiAPIKey = firstNonEmptyEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
	c.GeminiModel = envOr("GEMINI_EMBED_MODEL", c.GeminiModel)
	c.OllamaHost = envOr("OLLAMA_HOST", c.OllamaHost)
	c.OllamaModel = envOr("OLLAMA_EMBED_MODEL", c.OllamaModel)
	c.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	c.AnthropicModel = envOr("ANTHROPIC_MODEL", c.AnthropicModel)
	c.AWSRegion = envOr("AWS_REGION", c.AWSRegion)
	c.AWSBedrockModel = envOr("AWS_BEDROCK_MODEL", c.AWSBedrockModel)

	return c
}

// Default returns the recommended defaults, independent of the environment.
func Default() Config {
	return Config{
		DBURL:    "file:openmemory.db",
		PGSchema: "public",
		PGTable:  "openmemory",

		EmbedKind:         EmbedSynthetic,
		EmbeddingFallback: []EmbedKind{EmbedSynthetic},
		VecDim:            256,
		MaxVectorDim:      512,
		MinVectorDim:      16,
		SegSize:           5000,
		Tier:              TierHybrid,

		DecayInterval:      5 * time.Minute,
		DecayRatio:         0.03,
		DecayColdThreshold: 0.3,
		DecaySectorLambdas: DecaySectorLambdas{
			"episodic":   0.08,
			"semantic":   0.03,
			"procedural": 0.02,
			"emotional":  0.10,
			"reflective": 0.04,
		},

		ReflectInterval: 10 * time.Minute,
		ReflectMin:      20,
		ReflectLimit:    500,
		AutoReflect:     true,

		MaintenanceInterval: 6 * time.Hour,
		StatsRetentionDays:  30,

		Scoring: ScoringWeights{
			Similarity:   1.0,
			Overlap:      0.5,
			Waypoint:     0.3,
			Recency:      0.2,
			Tag:          0.4,
			KeywordBoost: 0.3,
		},
		Reinforcement: ReinforcementWeights{
			TraceBoost:        0.18,
			AssociativeFactor: 0.18,
			CoactivationEta:   0.1,
			CoactivationTau:   time.Hour,
			WaypointBoost:     0.05,
			MaxWaypointWeight: 1.0,
		},

		EncryptionEnabled:   false,
		EncryptionKey:       "",
		EncryptionSecondary: nil,

		SummaryMaxLength: 4000,
		UseSummaryOnly:   false,
		KeywordBoost:     0.3,

		DiversifyEnabled: false,
		DiversifyLambda:  0.7,

		OllamaHost: "http://localhost:11434",
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmptyEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return fallback
}
