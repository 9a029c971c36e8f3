package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env        string
	ListenAddr string

	Telegram TelegramConfig
	Auth     AuthConfig
	Artifact ArtifactConfig
	Provider ProviderConfig
}

type TelegramConfig struct {
	Token       string
	PollTimeout time.Duration
}

type AuthConfig struct {
	// SharedSecret gates entry into protected flows. Empty disables gating.
	SharedSecret string
	// GatedFlows names the flows that require the secret.
	GatedFlows []string
	// StorePath is the JSON file holding authorized user IDs.
	StorePath string
	// PostgresDSN switches the record store to Postgres when set.
	PostgresDSN string
}

type ArtifactConfig struct {
	// Backend is "disk" or "s3". Local env defaults to disk.
	Backend   string
	BaseDir   string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type ProviderConfig struct {
	SegmindAPIKey  string
	SegmindBaseURL string

	// Mask generation hosts, tried in order.
	MaskPrimaryURL   string
	MaskSecondaryURL string
	// MaskTarget is the text describing the region the mask should cover.
	MaskTarget string

	InpaintPrompt         string
	InpaintNegativePrompt string

	GeminiAPIKey string
	GeminiModel  string

	RequestTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	addr := flag.String("addr", ":8082", "chat gateway listen address")
	flag.Parse()

	if envAddr := os.Getenv("ADDR"); envAddr != "" {
		if strings.HasPrefix(envAddr, ":") {
			*addr = envAddr
		} else {
			*addr = ":" + envAddr
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Env:        env,
		ListenAddr: *addr,
		Telegram: TelegramConfig{
			Token:       strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
			PollTimeout: envDuration("TELEGRAM_POLL_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			SharedSecret: strings.TrimSpace(os.Getenv("FLOW_SHARED_SECRET")),
			GatedFlows:   splitList(firstNonEmpty(os.Getenv("AUTH_GATED_FLOWS"), "inpaint")),
			StorePath:    firstNonEmpty(strings.TrimSpace(os.Getenv("AUTH_STORE_PATH")), "tmp/authorized_users.json"),
			PostgresDSN:  strings.TrimSpace(os.Getenv("AUTH_STORE_PG_DSN")),
		},
		Artifact: loadArtifactConfig(env),
		Provider: loadProviderConfig(),
	}, nil
}

func loadArtifactConfig(env string) ArtifactConfig {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ARTIFACT_BACKEND")))
	if backend == "" {
		if strings.EqualFold(env, "local") {
			backend = "disk"
		} else {
			backend = "s3"
		}
	}
	return ArtifactConfig{
		Backend:   backend,
		BaseDir:   firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_BASE_DIR")), "tmp/artifacts"),
		Endpoint:  resolveArtifactEndpoint(env),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "pixflow-artifacts"),
		UseSSL:    resolveArtifactUseSSL(env),
	}
}

func loadProviderConfig() ProviderConfig {
	return ProviderConfig{
		SegmindAPIKey:         strings.TrimSpace(os.Getenv("SEGMIND_API_KEY")),
		SegmindBaseURL:        firstNonEmpty(strings.TrimSpace(os.Getenv("SEGMIND_BASE_URL")), "https://api.segmind.com/v1"),
		MaskPrimaryURL:        strings.TrimSpace(os.Getenv("MASK_PRIMARY_URL")),
		MaskSecondaryURL:      strings.TrimSpace(os.Getenv("MASK_SECONDARY_URL")),
		MaskTarget:            firstNonEmpty(strings.TrimSpace(os.Getenv("MASK_TARGET")), "background"),
		InpaintPrompt:         strings.TrimSpace(os.Getenv("INPAINT_PROMPT")),
		InpaintNegativePrompt: firstNonEmpty(strings.TrimSpace(os.Getenv("INPAINT_NEGATIVE_PROMPT")), "blurry, bad quality, low quality, sketches"),
		GeminiAPIKey:          strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:           firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_IMAGE_MODEL")), "gemini-2.5-flash-image"),
		RequestTimeout:        envDuration("PROVIDER_TIMEOUT", 3*time.Minute),
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(env, "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(env, "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
