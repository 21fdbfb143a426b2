package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type serverConfig struct {
	Port        int    `koanf:"port" validate:"required"`
	Mode        string `koanf:"mode" validate:"required"`
	Concurrency int    `koanf:"concurrency" validate:"required"`
	BodyLimit   int    `koanf:"body_limit" validate:"required"`
	AppName     string `koanf:"app_name" validate:"required"`
	Version     string `koanf:"version"`
}

type logLevel string

const (
	Debug logLevel = "debug"
	Info  logLevel = "info"
	Warn  logLevel = "warn"
	Error logLevel = "error"
	Fatal logLevel = "fatal"
	Panic logLevel = "panic"
)

type Module string

const (
	ModuleChroma      Module = "chroma"
	ModuleMilvus      Module = "milvus"
	ModuleVectorStore Module = "vectorstore"
	ModuleIngest      Module = "ingest"
	ModuleDatabase    Module = "database"
	ModuleOpenAI      Module = "openai"
	ModuleS3          Module = "s3"
	ModuleServer      Module = "server"
	ModuleSetting     Module = "setting"
	ModuleItems       Module = "items"
	ModuleRetriever   Module = "retriever"
	ModuleHealth      Module = "health"
)

// Backend names accepted by vector_backend.
const (
	BackendChroma = "chroma"
	BackendMilvus = "milvus"
	BackendMemory = "memory"
)

type DatabaseConfig struct {
	Enabled      bool     `koanf:"enabled"`
	Host         string   `koanf:"host" validate:"required_if=Enabled true"`
	Port         int      `koanf:"port" validate:"required_if=Enabled true"`
	User         string   `koanf:"user" validate:"required_if=Enabled true"`
	Password     string   `koanf:"password"`
	Name         string   `koanf:"name" validate:"required_if=Enabled true"`
	Replicas     []string `koanf:"replicas"`
	MaxIdleConns int      `koanf:"max_idle_conns"`
	MaxOpenConns int      `koanf:"max_open_conns"`
	MaxLifetime  int      `koanf:"max_lifetime"`
}

type OpenAIConfig struct {
	Key            string  `koanf:"key"`
	BaseURL        string  `koanf:"base_url"`
	EmbeddingModel string  `koanf:"embedding_model" validate:"required"`
	RatePerSecond  float64 `koanf:"rate_per_second" validate:"gte=0"`
	Burst          int     `koanf:"burst" validate:"gte=0"`
	BatchSize      int     `koanf:"batch_size" validate:"gte=1"`
}

type CorsConfig struct {
	AllowOrigins []string `koanf:"allow_origins" validate:"required"`
	AllowMethods []string `koanf:"allow_methods" validate:"required"`
	AllowHeaders []string `koanf:"allow_headers" validate:"required"`
}

type ChromaConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Scheme   string `koanf:"scheme" validate:"oneof=http https"`
	Tenant   string `koanf:"tenant" validate:"required"`
	Database string `koanf:"database" validate:"required"`
	Token    string `koanf:"token"`
	// Space is the distance function of the collections, used to turn distances into similarities.
	Space          string `koanf:"space" validate:"oneof=cosine l2 ip"`
	TimeoutSeconds int    `koanf:"timeout_seconds" validate:"gte=1"`
}

type MilvusConfig struct {
	Address         string          `koanf:"address" validate:"required"`
	Dim             int             `koanf:"dim" validate:"gte=1"`
	IndexHNSWConfig IndexHNSWConfig `koanf:"index_hnsw_config"`
}

type IndexHNSWConfig struct {
	MetricType     string `koanf:"metric_type" validate:"required"`
	M              int    `koanf:"m" validate:"required"`
	EfConstruction int    `koanf:"ef_construction" validate:"required"`
	Ef             int    `koanf:"ef" validate:"required"`
}

type ConnectConfig struct {
	Attempts              int `koanf:"attempts" validate:"gte=1"`
	AttemptTimeoutSeconds int `koanf:"attempt_timeout_seconds" validate:"gte=1"`
	DelaySeconds          int `koanf:"delay_seconds" validate:"gte=0"`
}

type RetrieverConfig struct {
	Collection     string  `koanf:"collection" validate:"required"`
	TopK           int     `koanf:"top_k" validate:"gte=1,lte=100"`
	FetchK         int     `koanf:"fetch_k" validate:"gte=1,lte=500"`
	LambdaMult     float64 `koanf:"lambda_mult" validate:"gte=0,lte=1"`
	MinScore       float64 `koanf:"min_score"`
	ThresholdMode  string  `koanf:"threshold_mode" validate:"oneof=absolute relative percentile"`
	ThresholdValue float64 `koanf:"threshold_value"`
	AbsoluteFloor  float64 `koanf:"absolute_floor"`
	MinDocuments   int     `koanf:"min_documents" validate:"gte=0"`
	MissingScore   string  `koanf:"missing_score" validate:"oneof=exclude passthrough"`
	UseCase        string  `koanf:"use_case" validate:"oneof=general semantic exact comprehensive"`
	TimeoutSeconds int     `koanf:"timeout_seconds" validate:"gte=1"`
}

type IngestConfig struct {
	ChunkTokens  int `koanf:"chunk_tokens" validate:"required"`
	ChunkOverlap int `koanf:"chunk_overlap" validate:"gte=0"`
	// StorageDir keeps uploaded files when no S3 bucket is configured.
	StorageDir string `koanf:"storage_dir" validate:"required"`
}

type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Region    string `koanf:"region"`
	UseSSL    bool   `koanf:"use_ssl"`
	// Bucket receives uploaded files; empty keeps uploads on local disk.
	Bucket string `koanf:"bucket"`
}

type Config struct {
	Server        serverConfig    `koanf:"server"`
	Env           string          `koanf:"env"`
	LogLevel      logLevel        `koanf:"log_level"`
	Cors          CorsConfig      `koanf:"cors"`
	VectorBackend string          `koanf:"vector_backend" validate:"oneof=chroma milvus memory"`
	Connect       ConnectConfig   `koanf:"connect"`
	Chroma        ChromaConfig    `koanf:"chroma"`
	Milvus        MilvusConfig    `koanf:"milvus"`
	OpenAI        OpenAIConfig    `koanf:"openai"`
	Retriever     RetrieverConfig `koanf:"retriever"`
	Ingest        IngestConfig    `koanf:"ingest"`
	Database      DatabaseConfig  `koanf:"database"`
	S3            S3Config        `koanf:"s3"`
}

func BuildMySQLDSN(host string, port int, cfg DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		host,
		port,
		cfg.Name,
	)
}

// Default returns the configuration used when neither file nor env override a key.
func Default() Config {
	return Config{
		Server: serverConfig{
			Port:        8009,
			Mode:        "release",
			Concurrency: 256,
			BodyLimit:   10 * 1024 * 1024,
			AppName:     "Microservicio API",
			Version:     "1.0.0",
		},
		Env:      "production",
		LogLevel: Info,
		Cors: CorsConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"*"},
		},
		VectorBackend: BackendChroma,
		Connect: ConnectConfig{
			Attempts:              20,
			AttemptTimeoutSeconds: 5,
			DelaySeconds:          2,
		},
		Chroma: ChromaConfig{
			Scheme:         "http",
			Tenant:         "default_tenant",
			Database:       "default_database",
			Space:          "cosine",
			TimeoutSeconds: 10,
		},
		Milvus: MilvusConfig{
			Address: "localhost:19530",
			Dim:     3072,
			IndexHNSWConfig: IndexHNSWConfig{
				MetricType:     "COSINE",
				M:              16,
				EfConstruction: 200,
				Ef:             64,
			},
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-large",
			RatePerSecond:  5,
			Burst:          5,
			BatchSize:      100,
		},
		Retriever: RetrieverConfig{
			Collection:     "pozos",
			TopK:           5,
			FetchK:         20,
			LambdaMult:     0.5,
			MinScore:       0.4,
			ThresholdMode:  "relative",
			ThresholdValue: 0.5,
			MinDocuments:   1,
			MissingScore:   "exclude",
			UseCase:        "general",
			TimeoutSeconds: 15,
		},
		Ingest: IngestConfig{
			ChunkTokens:  600,
			ChunkOverlap: 80,
			StorageDir:   "storage/documents",
		},
		Database: DatabaseConfig{
			Host:         "127.0.0.1",
			Port:         3306,
			User:         "root",
			Name:         "rag",
			MaxIdleConns: 5,
			MaxOpenConns: 20,
			MaxLifetime:  30,
		},
		S3: S3Config{
			Endpoint: "http://localhost:9000",
			Region:   "us-east-1",
		},
	}
}

// Load reads defaults, then the YAML file at path (optional), then .env and
// APP_* environment variables, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("%v: load %s: %w", ModuleSetting, path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%v: load .env: %w", ModuleSetting, err)
	}

	// APP_SERVER_PORT -> server.port; only the first underscore becomes a dot.
	if err := k.Load(env.Provider("APP_", ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("%v: load env: %w", ModuleSetting, err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("%v: unmarshal: %w", ModuleSetting, err)
	}

	applyChromaDetection(&cfg.Chroma, inDocker())

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// envKey turns APP_OPENAI_EMBEDDING_MODEL into openai.embedding_model.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "APP_"))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	if _, nested := nestedSections[section]; !nested {
		return key
	}
	return section + "." + rest
}

// nestedSections are the top level keys that hold structs; any other env key is a leaf.
var nestedSections = map[string]struct{}{
	"server": {}, "cors": {}, "connect": {}, "chroma": {}, "milvus": {},
	"openai": {}, "retriever": {}, "ingest": {}, "database": {}, "s3": {},
}

// applyChromaDetection fills host and port the way the compose setup expects:
// the "chroma" service inside docker, the mapped port 8008 on a dev machine.
func applyChromaDetection(c *ChromaConfig, docker bool) {
	if c.Host == "" {
		if docker {
			c.Host = "chroma"
		} else {
			c.Host = "localhost"
		}
	}
	if c.Port == 0 {
		if c.Host == "localhost" {
			c.Port = 8008
		} else {
			c.Port = 8000
		}
	}
}

func inDocker() bool {
	b, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	return strings.Contains(string(b), "docker")
}

// Validate runs struct validation and renders every failing field.
func Validate(cfg Config) error {
	validate := validator.New()
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%v: config validation failed: %w", ModuleSetting, err)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%v Config validation failed:\n", ModuleSetting))
	for _, e := range errs {
		sb.WriteString(fmt.Sprintf("  • %s: failed '%s' (value: %v)\n", e.Namespace(), e.Tag(), e.Value()))
	}
	return errors.New(sb.String())
}

// BaseURL is the root URL of the Chroma HTTP API.
func (c ChromaConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// DSN builds the primary MySQL DSN.
func (d DatabaseConfig) DSN() string {
	return BuildMySQLDSN(d.Host, d.Port, d)
}
