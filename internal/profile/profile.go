package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol).
	// All providers (openai, deepseek, siliconflow, ollama) use the same config.
	LLMProvider string // Provider identifier: openai, deepseek, siliconflow, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has a default per provider
	LLMModel    string
	LLMTimeout  int // LLM request timeout in seconds (default: 120)

	// Warehouse connection. Database and schema name the active data
	// context; switching them resets conversational state.
	WarehouseDriver   string // database driver for the data warehouse (postgres)
	WarehouseDSN      string
	WarehouseDatabase string
	WarehouseSchema   string

	// Session store.
	SessionDriver string // memory or sqlite
	SessionDSN    string // sqlite file path, derived from Data when empty

	// Assistant behavior.
	ValidatorEnabled bool // permit the validation retry loop when EXPLAIN fails
	ForceValidator   bool // always run the validator loop, even when EXPLAIN passes
	MaxQueryRetries  int  // validator invocations per build chain (default: 3)
	MaxClarifyTurns  int  // clarification turns before giving up; 0 = unbounded
	PanelParallelism int  // concurrent dashboard panel workers (default: 2)

	// Dashboard handoffs require an explicit confirmation signal in the
	// conversation; these are the accepted affirmative keywords.
	ConfirmKeywords []string

	Mode    string
	Addr    string
	Port    int
	Data    string
	Version string
}

// Provider default configurations for the LLM.
// Used when SNOWGPT_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4.1",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

// DefaultConfirmKeywords are the affirmative signals accepted before a
// dashboard handoff when SNOWGPT_CONFIRM_KEYWORDS is not set.
var DefaultConfirmKeywords = []string{"please", "yes", "go ahead", "confirm", "dashboard please"}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("SNOWGPT_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("SNOWGPT_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("SNOWGPT_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("SNOWGPT_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("SNOWGPT_LLM_TIMEOUT_SECONDS", 120)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		p.LLMProvider = "openai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.WarehouseDriver = getEnvOrDefault("SNOWGPT_WAREHOUSE_DRIVER", "postgres")
	p.WarehouseDSN = getEnvOrDefault("SNOWGPT_WAREHOUSE_DSN", "")
	p.WarehouseDatabase = getEnvOrDefault("SNOWGPT_WAREHOUSE_DATABASE", "")
	p.WarehouseSchema = getEnvOrDefault("SNOWGPT_WAREHOUSE_SCHEMA", "public")

	p.SessionDriver = getEnvOrDefault("SNOWGPT_SESSION_DRIVER", "sqlite")
	p.SessionDSN = getEnvOrDefault("SNOWGPT_SESSION_DSN", "")

	p.ValidatorEnabled = getEnvOrDefault("SNOWGPT_VALIDATOR_ENABLED", "true") == "true"
	p.ForceValidator = getEnvOrDefault("SNOWGPT_FORCE_VALIDATOR", "false") == "true"
	p.MaxQueryRetries = getEnvOrDefaultInt("SNOWGPT_MAX_QUERY_RETRIES", 3)
	p.MaxClarifyTurns = getEnvOrDefaultInt("SNOWGPT_MAX_CLARIFY_TURNS", 8)
	p.PanelParallelism = getEnvOrDefaultInt("SNOWGPT_PANEL_PARALLELISM", 2)

	if raw := os.Getenv("SNOWGPT_CONFIRM_KEYWORDS"); raw != "" {
		keywords := []string{}
		for _, kw := range strings.Split(raw, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		p.ConfirmKeywords = keywords
	} else {
		p.ConfirmKeywords = DefaultConfirmKeywords
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.WarehouseDSN == "" && p.Mode == "prod" {
		return errors.New("warehouse DSN required in prod mode")
	}

	if p.WarehouseSchema == "" {
		p.WarehouseSchema = "public"
	}

	if p.MaxQueryRetries <= 0 {
		p.MaxQueryRetries = 3
	}
	if p.PanelParallelism <= 0 {
		p.PanelParallelism = 1
	}
	if len(p.ConfirmKeywords) == 0 {
		p.ConfirmKeywords = DefaultConfirmKeywords
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.SessionDriver == "sqlite" && p.SessionDSN == "" {
		p.SessionDSN = filepath.Join(dataDir, "snowgpt_"+p.Mode+".db")
	}

	return nil
}
