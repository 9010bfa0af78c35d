package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider          string  `yaml:"provider"`
		APIKey            string  `yaml:"api_key"`
		BaseURL           string  `yaml:"base_url"`
		Model             string  `yaml:"model"`
		EmbeddingModel    string  `yaml:"embedding_model"`
		MaxTokens         int     `yaml:"max_tokens"`
		Temperature       float64 `yaml:"temperature"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"llm"`

	Retrieval struct {
		TopK int `yaml:"top_k"`
	} `yaml:"retrieval"`

	Index struct {
		Backend   string `yaml:"backend"`
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"index"`

	Sessions struct {
		Capacity int           `yaml:"capacity"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"sessions"`

	Processor struct {
		MaxInputChars int `yaml:"max_input_chars"`
		WindowOverlap int `yaml:"window_overlap"`
	} `yaml:"processor"`

	Server struct {
		Addr        string `yaml:"addr"`
		MaxUploadMB int    `yaml:"max_upload_mb"`
	} `yaml:"server"`

	Client struct {
		BackendURL string        `yaml:"backend_url"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"client"`
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	BackendMemory   = "memory"
	BackendPGVector = "pgvector"
)

func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docrag/config.yaml"),
			"/etc/docrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = ProviderOpenAI
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == ProviderOllama {
			config.LLM.Model = "mistral"
		} else {
			config.LLM.Model = "gpt-4o-mini"
		}
	}
	if config.LLM.EmbeddingModel == "" {
		if config.LLM.Provider == ProviderOllama {
			config.LLM.EmbeddingModel = "nomic-embed-text:latest"
		} else {
			config.LLM.EmbeddingModel = "text-embedding-3-small"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == ProviderOllama {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.5
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}

	if config.Index.Backend == "" {
		config.Index.Backend = BackendMemory
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "chunks"
	}
	if config.Index.VectorDim == 0 {
		config.Index.VectorDim = 1536
	}
	if config.Index.BatchSize == 0 {
		config.Index.BatchSize = 100
	}

	if config.Sessions.Capacity == 0 {
		config.Sessions.Capacity = 100
	}
	if config.Sessions.TTL == 0 {
		config.Sessions.TTL = time.Hour
	}

	if config.Processor.MaxInputChars == 0 {
		config.Processor.MaxInputChars = 24000
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 32
	}

	if config.Client.BackendURL == "" {
		config.Client.BackendURL = "http://localhost:8000"
	}
	if config.Client.Timeout == 0 {
		config.Client.Timeout = 10 * time.Minute
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if model := os.Getenv("MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		config.LLM.EmbeddingModel = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.Provider = ProviderOllama
		config.LLM.BaseURL = baseURL
	}
	if topK := os.Getenv("TOP_K"); topK != "" {
		if k, err := strconv.Atoi(topK); err == nil {
			config.Retrieval.TopK = k
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Index.URL = dbURL
		config.Index.Backend = BackendPGVector
	}
	if addr := os.Getenv("DOCRAG_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if backend := os.Getenv("DOCRAG_BACKEND_URL"); backend != "" {
		config.Client.BackendURL = backend
	}
}
