package model

// Config holds every tunable of a verification run.
// It is built once at startup and treated as read-only afterwards.
type Config struct {
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" mapstructure:"retrieval"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Heuristics   HeuristicConfig    `yaml:"heuristics" mapstructure:"heuristics"`
	EvidenceLog  EvidenceLogConfig  `yaml:"evidence_log" mapstructure:"evidence_log"`
	Batch        BatchConfig        `yaml:"batch" mapstructure:"batch"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// LLMConfig selects and tunes the completion provider.
// An empty Provider disables skills; every phase then runs its heuristic tool.
type LLMConfig struct {
	Provider         string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, llamacpp
	Model            string  `yaml:"model" mapstructure:"model"`
	APIKey           string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL          string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"` // Per completion call
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	TransportRetries int     `yaml:"transport_retries" mapstructure:"transport_retries"` // Retries on transport errors, 408, 429 and 5xx
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"` // Consecutive failures before the breaker opens
	HTTPProxy        string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy       string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy          string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// HTTPConfig tunes outbound retrieval traffic
type HTTPConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"` // Per retrieval call
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	InsecureTLS       bool    `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	RespectRobots     bool    `yaml:"respect_robots" mapstructure:"respect_robots"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"` // Per domain
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	HTTPProxy         string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// RetrievalConfig configures evidence sources
type RetrievalConfig struct {
	WikiAPIURL      string   `yaml:"wiki_api_url" mapstructure:"wiki_api_url"`
	WikiPageURL     string   `yaml:"wiki_page_url" mapstructure:"wiki_page_url"` // Prefix for article links
	OpenWeb         bool     `yaml:"open_web" mapstructure:"open_web"`           // Free DuckDuckGo instant answers
	OpenWebURL      string   `yaml:"open_web_url" mapstructure:"open_web_url"`
	WebProvider     string   `yaml:"web_provider" mapstructure:"web_provider"` // serpapi or tavily
	WebAPIKey       string   `yaml:"web_api_key,omitempty" mapstructure:"web_api_key"`
	SerpAPIURL      string   `yaml:"serpapi_url" mapstructure:"serpapi_url"`
	TavilyURL       string   `yaml:"tavily_url" mapstructure:"tavily_url"`
	KBPath          string   `yaml:"kb_path" mapstructure:"kb_path"`
	QueryLimit      int      `yaml:"query_limit" mapstructure:"query_limit"` // Rows per query (1..10)
	KBLimit         int      `yaml:"kb_limit" mapstructure:"kb_limit"`       // Rows per KB lookup (1..20)
	ExpandPages     bool     `yaml:"expand_pages" mapstructure:"expand_pages"`
	PageFetchBudget int      `yaml:"page_fetch_budget" mapstructure:"page_fetch_budget"` // Pages per run
	PageSentences   int      `yaml:"page_sentences" mapstructure:"page_sentences"`       // Sentences kept per page (1..10)
	PageMaxBytes    int64    `yaml:"page_max_bytes" mapstructure:"page_max_bytes"`
	PrimaryDomains  []string `yaml:"primary_domains" mapstructure:"primary_domains"`
	LowTrustDomains []string `yaml:"low_trust_domains" mapstructure:"low_trust_domains"`
}

// OrchestratorConfig bounds the phase machine
type OrchestratorConfig struct {
	MaxSteps           int  `yaml:"max_steps" mapstructure:"max_steps"`
	PhaseRetries       int  `yaml:"phase_retries" mapstructure:"phase_retries"`
	SkillRetries       int  `yaml:"skill_retries" mapstructure:"skill_retries"`
	ToolRetries        int  `yaml:"tool_retries" mapstructure:"tool_retries"`
	MaxQueriesPerClaim int  `yaml:"max_queries_per_claim" mapstructure:"max_queries_per_claim"`
	SelectTopK         int  `yaml:"select_top_k" mapstructure:"select_top_k"`
	MaxCitations       int  `yaml:"max_citations" mapstructure:"max_citations"`
	UseSkills          bool `yaml:"use_skills" mapstructure:"use_skills"`
}

// HeuristicConfig carries the stance and aggregation constants
type HeuristicConfig struct {
	NeutralOverlap     float64 `yaml:"neutral_overlap" mapstructure:"neutral_overlap"`
	YearOverlap        float64 `yaml:"year_overlap" mapstructure:"year_overlap"`
	NumberOverlap      float64 `yaml:"number_overlap" mapstructure:"number_overlap"`
	NegationOverlap    float64 `yaml:"negation_overlap" mapstructure:"negation_overlap"`
	AntonymOverlap     float64 `yaml:"antonym_overlap" mapstructure:"antonym_overlap"`
	ExclusivityOverlap float64 `yaml:"exclusivity_overlap" mapstructure:"exclusivity_overlap"`
	SalientOverlap     float64 `yaml:"salient_overlap" mapstructure:"salient_overlap"`
	SupportHigh        float64 `yaml:"support_high" mapstructure:"support_high"`
	SupportMed         float64 `yaml:"support_med" mapstructure:"support_med"`

	WeightLow  float64 `yaml:"weight_low" mapstructure:"weight_low"`
	WeightMed  float64 `yaml:"weight_med" mapstructure:"weight_med"`
	WeightHigh float64 `yaml:"weight_high" mapstructure:"weight_high"`

	RefuteMin        float64 `yaml:"refute_min" mapstructure:"refute_min"`
	RefuteMargin     float64 `yaml:"refute_margin" mapstructure:"refute_margin"`
	RefuteHigh       float64 `yaml:"refute_high" mapstructure:"refute_high"`
	SupportScoreMin  float64 `yaml:"support_score_min" mapstructure:"support_score_min"`
	SupportMargin    float64 `yaml:"support_margin" mapstructure:"support_margin"`
	SupportScoreHigh float64 `yaml:"support_score_high" mapstructure:"support_score_high"`

	AntonymPairs []string          `yaml:"antonym_pairs" mapstructure:"antonym_pairs"` // "a/b"
	Synonyms     map[string]string `yaml:"synonyms" mapstructure:"synonyms"`           // term -> canonical term
}

// EvidenceLogConfig controls the append-only JSONL log of retrieved rows
type EvidenceLogConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// BatchConfig tunes the batch evaluator
type BatchConfig struct {
	Concurrency int   `yaml:"concurrency" mapstructure:"concurrency"`
	Limit       int   `yaml:"limit" mapstructure:"limit"`
	Seed        int64 `yaml:"seed" mapstructure:"seed"`
}

// ServerConfig configures the HTTP endpoint
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	RequestTimeout int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // console or json
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:            "gpt-4o-mini",
			TimeoutSecs:      30,
			MaxTokens:        512,
			Temperature:      0.0,
			TransportRetries: 2,
			BreakerThreshold: 5,
		},
		HTTP: HTTPConfig{
			TimeoutSecs:       10,
			UserAgent:         "Veritas/0.1 (+https://github.com/ppiankov/veritas)",
			MaxBodyBytes:      2_000_000,
			RespectRobots:     true,
			RequestsPerSecond: 2.0,
			Burst:             5,
		},
		Retrieval: RetrievalConfig{
			WikiAPIURL:      "https://en.wikipedia.org/w/api.php",
			WikiPageURL:     "https://en.wikipedia.org/wiki/",
			OpenWeb:         true,
			OpenWebURL:      "https://api.duckduckgo.com/",
			WebProvider:     "serpapi",
			SerpAPIURL:      "https://serpapi.com/search.json",
			TavilyURL:       "https://api.tavily.com/search",
			QueryLimit:      4,
			KBLimit:         5,
			ExpandPages:     true,
			PageFetchBudget: 2,
			PageSentences:   3,
			PageMaxBytes:    1_000_000,
			PrimaryDomains: []string{
				"who.int",
				"un.org",
				"europa.eu",
				"doi.org",
				"britannica.com",
				"nature.com",
				"science.org",
			},
			LowTrustDomains: []string{
				"reddit.com",
				"quora.com",
				"facebook.com",
				"twitter.com",
				"x.com",
				"tiktok.com",
				"pinterest.com",
				"answers.com",
			},
		},
		Orchestrator: OrchestratorConfig{
			MaxSteps:           20,
			PhaseRetries:       2,
			SkillRetries:       2,
			ToolRetries:        2,
			MaxQueriesPerClaim: 2,
			SelectTopK:         5,
			MaxCitations:       2,
			UseSkills:          true,
		},
		Heuristics: DefaultHeuristics(),
		EvidenceLog: EvidenceLogConfig{
			Enabled: false,
			Path:    "runtime/evidence.jsonl",
		},
		Batch: BatchConfig{
			Concurrency: 1,
			Limit:       20,
			Seed:        42,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 120,
			CORSOrigins:    []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultHeuristics returns the stance and aggregation defaults
func DefaultHeuristics() HeuristicConfig {
	return HeuristicConfig{
		NeutralOverlap:     0.2,
		YearOverlap:        0.3,
		NumberOverlap:      0.35,
		NegationOverlap:    0.35,
		AntonymOverlap:     0.35,
		ExclusivityOverlap: 0.35,
		SalientOverlap:     0.6,
		SupportHigh:        0.5,
		SupportMed:         0.3,

		WeightLow:  0.5,
		WeightMed:  1.0,
		WeightHigh: 2.0,

		RefuteMin:        1.5,
		RefuteMargin:     0.5,
		RefuteHigh:       2.5,
		SupportScoreMin:  1.8,
		SupportMargin:    0.7,
		SupportScoreHigh: 3.0,

		AntonymPairs: []string{
			"born/died",
			"alive/dead",
			"won/lost",
			"win/lose",
			"true/false",
			"before/after",
			"increase/decrease",
			"open/closed",
			"first/last",
			"largest/smallest",
			"north/south",
			"east/west",
			"male/female",
			"older/younger",
		},
		Synonyms: map[string]string{
			"movie":    "film",
			"movies":   "film",
			"films":    "film",
			"picture":  "film",
			"usa":      "us",
			"america":  "us",
			"american": "us",
			"uk":       "britain",
			"british":  "britain",
			"author":   "writer",
			"authored": "wrote",
			"penned":   "wrote",
			"written":  "wrote",
			"begun":    "began",
			"started":  "began",
			"founded":  "established",
			"capital":  "capital",
			"biggest":  "largest",
		},
	}
}
