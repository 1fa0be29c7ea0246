package config

// Config 是 alphaforge 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	LLM      LLMConfig      `toml:"llm"`
	Graph    GraphConfig    `toml:"graph"`
	Loop     LoopConfig     `toml:"loop"`
	Backtest BacktestConfig `toml:"backtest"`
	Server   ServerConfig   `toml:"server"`
	Report   ReportConfig   `toml:"report"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump"`
}

// DataConfig 描述 finlab 风格数据服务的访问方式与本地缓存。
type DataConfig struct {
	BaseURL         string `toml:"base_url"`
	Token           string `toml:"token"`
	CachePath       string `toml:"cache_path"`
	CacheTTLHours   int    `toml:"cache_ttl_hours"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// LLMModelConfig 代表一个可用于生成策略代码的模型条目。
type LLMModelConfig struct {
	ID             string            `toml:"id"`
	BaseURL        string            `toml:"base_url"`
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	Enabled        bool              `toml:"enabled"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	MaxRetries     int               `toml:"max_retries"`
	Headers        map[string]string `toml:"headers"`
}

type LLMConfig struct {
	Models                 []LLMModelConfig `toml:"models"`
	Temperature            float64          `toml:"temperature"`
	RateLimitPerMin        int              `toml:"rate_limit_per_min"`
	BreakerThreshold       int              `toml:"breaker_threshold"`
	BreakerCooldownSeconds int              `toml:"breaker_cooldown_seconds"`
}

// GraphConfig 控制因子图模板库。
type GraphConfig struct {
	TemplatesPath string `toml:"templates_path"`
	Watch         bool   `toml:"watch"`
	Seed          int64  `toml:"seed"`
}

type LoopConfig struct {
	MaxIterations         int             `toml:"max_iterations"`
	Candidates            int             `toml:"candidates"`
	MaxRetries            int             `toml:"max_retries"`
	Parallel              int             `toml:"parallel"`
	SandboxTimeoutSeconds int             `toml:"sandbox_timeout_seconds"`
	SeedTemplate          string          `toml:"seed_template"`
	HistoryDB             string          `toml:"history_db"`
	HistoryJSONL          string          `toml:"history_jsonl"`
	Objective             ObjectiveConfig `toml:"objective"`
}

// ObjectiveConfig 决定候选策略的综合得分。
type ObjectiveConfig struct {
	CAGRWeight     float64 `toml:"cagr_weight"`
	SharpeWeight   float64 `toml:"sharpe_weight"`
	DrawdownWeight float64 `toml:"drawdown_weight"`
}

type BacktestConfig struct {
	StartDate    string  `toml:"start_date"`
	EndDate      string  `toml:"end_date"`
	FeeRate      float64 `toml:"fee_rate"`      // 券商手续费（单边）
	FeeDiscount  float64 `toml:"fee_discount"`  // 券商折扣 0~1
	TaxRate      float64 `toml:"tax_rate"`      // 证交税（卖出）
	InitialFunds float64 `toml:"initial_funds"` // 初始资金（新台币）
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type ReportConfig struct {
	OutputDir string `toml:"output_dir"`
	Snapshot  bool   `toml:"snapshot"` // 是否用 headless chrome 截 PNG
}
