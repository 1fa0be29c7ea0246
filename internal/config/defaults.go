package config

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogPath      = "data/logs/alphaforge.log"
	defaultAppLLMLogPath   = "data/logs/alphaforge-llm.log"
	defaultDataBaseURL     = "https://api.finlab.tw/api/v1"
	defaultDataCachePath   = "data/cache/datasets.db"
	defaultDataCacheTTL    = 24
	defaultDataRateLimit   = 30
	defaultDataTimeout     = 60
	defaultLLMTemperature  = 0.7
	defaultLLMRateLimit    = 10
	defaultBreakerFailures = 3
	defaultBreakerCooldown = 300
	defaultTemplatesPath   = "configs/templates.yaml"
	defaultMaxIterations   = 50
	defaultCandidates      = 3
	defaultMaxRetries      = 2
	defaultParallel        = 2
	defaultSandboxTimeout  = 30
	defaultSeedTemplate    = "factor"
	defaultHistoryDB       = "data/history/iterations.db"
	defaultHistoryJSONL    = "data/history/iterations.jsonl"
	defaultBacktestStart   = "2018-01-01"
	defaultFeeRate         = 0.001425
	defaultFeeDiscount     = 0.6
	defaultTaxRate         = 0.003
	defaultInitialFunds    = 1_000_000
	defaultServerAddr      = ":9980"
	defaultReportDir       = "data/reports"
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.LogPath == "" {
		c.App.LogPath = defaultAppLogPath
	}
	if c.App.LLMLog == "" {
		c.App.LLMLog = defaultAppLLMLogPath
	}

	if c.Data.BaseURL == "" {
		c.Data.BaseURL = defaultDataBaseURL
	}
	if c.Data.CachePath == "" {
		c.Data.CachePath = defaultDataCachePath
	}
	if c.Data.CacheTTLHours <= 0 {
		c.Data.CacheTTLHours = defaultDataCacheTTL
	}
	if c.Data.RateLimitPerMin <= 0 {
		c.Data.RateLimitPerMin = defaultDataRateLimit
	}
	if c.Data.TimeoutSeconds <= 0 {
		c.Data.TimeoutSeconds = defaultDataTimeout
	}

	if c.LLM.Temperature <= 0 {
		c.LLM.Temperature = defaultLLMTemperature
	}
	if c.LLM.RateLimitPerMin <= 0 {
		c.LLM.RateLimitPerMin = defaultLLMRateLimit
	}
	if c.LLM.BreakerThreshold <= 0 {
		c.LLM.BreakerThreshold = defaultBreakerFailures
	}
	if c.LLM.BreakerCooldownSeconds <= 0 {
		c.LLM.BreakerCooldownSeconds = defaultBreakerCooldown
	}

	if c.Graph.TemplatesPath == "" {
		c.Graph.TemplatesPath = defaultTemplatesPath
	}

	if c.Loop.MaxIterations <= 0 {
		c.Loop.MaxIterations = defaultMaxIterations
	}
	if c.Loop.Candidates <= 0 {
		c.Loop.Candidates = defaultCandidates
	}
	if c.Loop.MaxRetries < 0 {
		c.Loop.MaxRetries = defaultMaxRetries
	}
	if c.Loop.Parallel <= 0 {
		c.Loop.Parallel = defaultParallel
	}
	if c.Loop.SandboxTimeoutSeconds <= 0 {
		c.Loop.SandboxTimeoutSeconds = defaultSandboxTimeout
	}
	if c.Loop.SeedTemplate == "" {
		c.Loop.SeedTemplate = defaultSeedTemplate
	}
	if c.Loop.HistoryDB == "" {
		c.Loop.HistoryDB = defaultHistoryDB
	}
	if c.Loop.HistoryJSONL == "" {
		c.Loop.HistoryJSONL = defaultHistoryJSONL
	}
	if c.Loop.Objective == (ObjectiveConfig{}) {
		c.Loop.Objective = ObjectiveConfig{CAGRWeight: 1, SharpeWeight: 0.5, DrawdownWeight: 1}
	}

	if c.Backtest.StartDate == "" {
		c.Backtest.StartDate = defaultBacktestStart
	}
	if c.Backtest.FeeRate <= 0 {
		c.Backtest.FeeRate = defaultFeeRate
	}
	if c.Backtest.FeeDiscount <= 0 || c.Backtest.FeeDiscount > 1 {
		c.Backtest.FeeDiscount = defaultFeeDiscount
	}
	if c.Backtest.TaxRate <= 0 {
		c.Backtest.TaxRate = defaultTaxRate
	}
	if c.Backtest.InitialFunds <= 0 {
		c.Backtest.InitialFunds = defaultInitialFunds
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = defaultReportDir
	}
}
