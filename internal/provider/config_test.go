package provider

import (
	"os"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "ollama/valid",
			cfg:  Config{Backend: BackendOllama, BaseURL: "http://localhost:11434", Model: "llama3"},
		},
		{
			name: "openai/valid",
			cfg:  Config{Backend: BackendOpenAI, APIKey: "sk-test", Model: "gpt-4o"},
		},
		{
			name:    "openai/missing api key",
			cfg:     Config{Backend: BackendOpenAI, Model: "gpt-4o"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name: "azure/valid",
			cfg: Config{
				Backend:         BackendAzure,
				APIKey:          "key",
				BaseURL:         "https://my.openai.azure.com",
				AzureDeployment: "gpt-4o",
				AzureAPIVersion: "2024-02-01",
			},
		},
		{
			name: "azure/missing api key",
			cfg: Config{
				Backend:         BackendAzure,
				BaseURL:         "https://my.openai.azure.com",
				AzureDeployment: "gpt-4o",
			},
			wantErr: "AZURE_OPENAI_API_KEY",
		},
		{
			name: "azure/missing endpoint",
			cfg: Config{
				Backend:         BackendAzure,
				APIKey:          "key",
				AzureDeployment: "gpt-4o",
			},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name: "azure/missing deployment",
			cfg: Config{
				Backend: BackendAzure,
				APIKey:  "key",
				BaseURL: "https://my.openai.azure.com",
			},
			wantErr: "AZURE_OPENAI_DEPLOYMENT",
		},
		{
			name: "bedrock/valid",
			cfg:  Config{Backend: BackendBedrock, AWSRegion: "us-east-1", Model: "anthropic.claude-3"},
		},
		{
			name:    "bedrock/missing model id",
			cfg:     Config{Backend: BackendBedrock, AWSRegion: "us-east-1"},
			wantErr: "BEDROCK_MODEL_ID",
		},
		{
			name: "gemini/valid",
			cfg:  Config{Backend: BackendGemini, APIKey: "AIza-test", Model: "gemini-1.5-pro"},
		},
		{
			name:    "gemini/missing api key",
			cfg:     Config{Backend: BackendGemini, Model: "gemini-1.5-pro"},
			wantErr: "GOOGLE_API_KEY",
		},
		{
			name:    "unknown backend",
			cfg:     Config{Backend: "unknown"},
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL",
		"MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOllama {
		t.Errorf("Backend = %q, want ollama", cfg.Backend)
	}
	if cfg.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Model != "llama3" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", cfg.MaxTokens)
	}
	if cfg.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", cfg.Temperature)
	}
}

func TestConfigFromEnv_Azure(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("AZURE_OPENAI_API_KEY", "key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://my.openai.azure.com")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o")
	t.Setenv("AZURE_OPENAI_API_VERSION", "")
	os.Unsetenv("AZURE_OPENAI_API_VERSION")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendAzure {
		t.Fatalf("Backend = %q, want azure", cfg.Backend)
	}
	if cfg.AzureDeployment != "gpt-4o" {
		t.Errorf("AzureDeployment = %q", cfg.AzureDeployment)
	}
	if cfg.AzureAPIVersion != "2024-02-01" {
		t.Errorf("AzureAPIVersion = %q, want default 2024-02-01", cfg.AzureAPIVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
