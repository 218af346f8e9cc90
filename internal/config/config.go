package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	DefaultAddr     = ":3000"
	DefaultBaseURL  = "https://router.huggingface.co/hf-inference"
	DefaultProvider = "hf-inference"
	DefaultModel    = "stabilityai/stable-diffusion-xl-base-1.0"
)

var ErrMissingCredential = errors.New("HF_API_KEY is missing")

// Config holds all configuration for the relay
type Config struct {
	APIKey         string        `env:"HF_API_KEY" validate:"required"`
	APIKeyParam    string        `env:"HF_API_KEY_PARAM"`
	Addr           string        `env:"ADDR" validate:"required"`
	BaseURL        string        `env:"HF_BASE_URL" validate:"required,url"`
	Provider       string        `env:"HF_PROVIDER"`
	DefaultModel   string        `env:"DEFAULT_MODEL" validate:"required"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" validate:"gte=0"`
	PromptsParam   string        `env:"PROMPTS_PARAM"`
	AllowOrigins   []string      `env:"CORS_ALLOW_ORIGINS" validate:"min=1"`
	LogLevel       string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// ResolveFunc looks up a secret by path, e.g. from SSM Parameter Store.
type ResolveFunc func(ctx context.Context, path string) (string, error)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	return v
}

// Load reads .env (if present) and the environment. When HF_API_KEY is empty
// and HF_API_KEY_PARAM is set, the key is fetched through resolve.
func Load(ctx context.Context, resolve ResolveFunc) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	config := &Config{
		APIKey:       os.Getenv("HF_API_KEY"),
		APIKeyParam:  os.Getenv("HF_API_KEY_PARAM"),
		Addr:         getenv("ADDR", DefaultAddr),
		BaseURL:      strings.TrimRight(getenv("HF_BASE_URL", DefaultBaseURL), "/"),
		Provider:     getenv("HF_PROVIDER", DefaultProvider),
		DefaultModel: getenv("DEFAULT_MODEL", DefaultModel),
		PromptsParam: os.Getenv("PROMPTS_PARAM"),
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
	}

	if v, ok := os.LookupEnv("HF_PROVIDER"); ok {
		config.Provider = v // empty disables the routing header
	}

	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		seconds, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("REQUEST_TIMEOUT must be a number of seconds: %w", err)
		}
		config.RequestTimeout = time.Duration(seconds) * time.Second
	}

	config.AllowOrigins = lo.Filter(
		lo.Map(strings.Split(getenv("CORS_ALLOW_ORIGINS", "*"), ","), func(s string, _ int) string {
			return strings.TrimSpace(s)
		}),
		func(s string, _ int) bool { return s != "" },
	)

	if config.APIKey == "" && config.APIKeyParam != "" && resolve != nil {
		key, err := resolve(ctx, config.APIKeyParam)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving HF_API_KEY_PARAM: %v", ErrMissingCredential, err)
		}
		config.APIKey = key
	}

	if err := validate.Struct(config); err != nil {
		return nil, describe(err)
	}
	return config, nil
}

func describe(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	msgs := lo.Map(errs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "oneof":
			return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
		}
	})
	err = errors.New(strings.Join(msgs, "; "))
	if lo.ContainsBy(errs, func(fe validator.FieldError) bool { return fe.Field() == "HF_API_KEY" }) {
		return fmt.Errorf("%w: %v", ErrMissingCredential, err)
	}
	return err
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
