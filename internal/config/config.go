// Package config はアプリケーション設定を読み込みます。
//
// 優先順位は低い順に、デフォルト値、TOML設定ファイル、.env ファイル、
// 環境変数、CLIフラグです。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Settings はアプリケーション全体の設定です。
type Settings struct {
	AppName        string   `toml:"app_name"`
	AppVersion     string   `toml:"app_version"`
	Debug          bool     `toml:"debug"`
	Port           string   `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`

	AWSRegion string `toml:"aws_region"`

	// Cognito
	CognitoUserPoolID  string `toml:"cognito_user_pool_id"`
	CognitoClientID    string `toml:"cognito_client_id"`
	CognitoEndpointURL string `toml:"cognito_endpoint_url"` // 設定時は署名検証なしのローカルモード

	JWKSCacheTTL Duration `toml:"jwks_cache_ttl"` // 0 はプロセス終了までキャッシュ
	HTTPTimeout  Duration `toml:"http_timeout"`

	// DynamoDB
	DynamoDBTableName   string `toml:"dynamodb_table_name"`
	DynamoDBEndpointURL string `toml:"dynamodb_endpoint_url"` // DynamoDB Local 用
}

// Duration は TOML の "1h30m" 形式の文字列を読み取れる time.Duration です。
type Duration struct {
	time.Duration
}

// UnmarshalText は encoding.TextUnmarshaler を実装します。
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default はデフォルト値の設定を返します。
func Default() *Settings {
	return &Settings{
		AppName:           "App Prototype API",
		AppVersion:        "0.1.0",
		Port:              "8080",
		AllowedOrigins:    []string{"http://localhost:5173", "http://localhost:3000"},
		AWSRegion:         "ap-northeast-1",
		HTTPTimeout:       Duration{5 * time.Second},
		DynamoDBTableName: "app-prototype",
	}
}

// Load は設定ファイル (空なら読み込まない)、.env、環境変数の順に設定を読み込みます。
func Load(configFile string) (*Settings, error) {
	s := Default()

	if configFile != "" {
		if _, err := toml.DecodeFile(configFile, s); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configFile, err)
		}
	}

	// .env は存在しなくてもよい。既に設定済みの環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := s.loadFromEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadFromEnv は環境変数で設定を上書きします。
func (s *Settings) loadFromEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("APP_NAME", &s.AppName)
	setString("APP_VERSION", &s.AppVersion)
	setString("PORT", &s.Port)
	setString("AWS_REGION", &s.AWSRegion)
	setString("COGNITO_USER_POOL_ID", &s.CognitoUserPoolID)
	setString("COGNITO_CLIENT_ID", &s.CognitoClientID)
	setString("COGNITO_ENDPOINT_URL", &s.CognitoEndpointURL)
	setString("DYNAMODB_TABLE_NAME", &s.DynamoDBTableName)
	setString("DYNAMODB_ENDPOINT_URL", &s.DynamoDBEndpointURL)

	if v := getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG %q: %w", v, err)
		}
		s.Debug = b
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		s.AllowedOrigins = splitList(v)
	}
	if v := getenv("JWKS_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid JWKS_CACHE_TTL %q: %w", v, err)
		}
		s.JWKSCacheTTL = Duration{d}
	}
	if v := getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_TIMEOUT %q: %w", v, err)
		}
		s.HTTPTimeout = Duration{d}
	}
	return nil
}

// Validate は設定値の整合性を検証します。
func (s *Settings) Validate() error {
	if s.DynamoDBTableName == "" {
		return fmt.Errorf("dynamodb table name is empty")
	}
	if s.AWSRegion == "" {
		return fmt.Errorf("aws region is empty")
	}
	if s.JWKSCacheTTL.Duration < 0 {
		return fmt.Errorf("jwks cache ttl must not be negative")
	}
	return nil
}

// LocalAuth はCognitoのエンドポイントが上書きされている (cognito-local) かどうかを返します。
func (s *Settings) LocalAuth() bool {
	return s.CognitoEndpointURL != ""
}

// CognitoIssuer はJWTの iss として期待する値を返します。
func (s *Settings) CognitoIssuer() string {
	if s.LocalAuth() {
		return s.CognitoEndpointURL
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", s.AWSRegion, s.CognitoUserPoolID)
}

// JWKSURL は公開鍵セットのURLを返します。ローカルモードでは空です。
func (s *Settings) JWKSURL() string {
	if s.LocalAuth() {
		return ""
	}
	return s.CognitoIssuer() + "/.well-known/jwks.json"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
