package gateway

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceEndpoint は上流サービスの論理名とベースURLの組。
type ServiceEndpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ServiceRegistry は論理サービス名からベースURLへの順序付きの対応表。
// 起動時に一度だけ構築し、プロセス終了まで変更しない。
type ServiceRegistry struct {
	endpoints []ServiceEndpoint
}

// NewServiceRegistry は登録順を保持したサービスレジストリを生成する。
func NewServiceRegistry(endpoints ...ServiceEndpoint) (ServiceRegistry, error) {
	seen := make(map[string]struct{}, len(endpoints))
	for _, ep := range endpoints {
		if ep.Name == "" {
			return ServiceRegistry{}, &ConfigurationError{Reason: "サービス名が空です"}
		}
		if _, ok := seen[ep.Name]; ok {
			return ServiceRegistry{}, &ConfigurationError{Reason: "サービス名が重複しています: " + ep.Name}
		}
		seen[ep.Name] = struct{}{}
	}
	return ServiceRegistry{endpoints: append([]ServiceEndpoint(nil), endpoints...)}, nil
}

// URL はサービス名に対応するベースURLを返す。
func (r ServiceRegistry) URL(name string) (string, bool) {
	for _, ep := range r.endpoints {
		if ep.Name == name {
			return ep.URL, true
		}
	}
	return "", false
}

// Endpoints は登録順のサービス一覧のコピーを返す。
func (r ServiceRegistry) Endpoints() []ServiceEndpoint {
	return append([]ServiceEndpoint(nil), r.endpoints...)
}

// serviceDefault は上流サービスの環境変数名とデフォルトURL。
type serviceDefault struct {
	name   string
	envKey string
	url    string
}

// serviceDefaults は上流サービスの既定値。この順序がレジストリの順序になる。
var serviceDefaults = []serviceDefault{
	{name: "auth", envKey: "AUTH_SERVICE_URL", url: "http://localhost:3001"},
	{name: "user", envKey: "USER_SERVICE_URL", url: "http://localhost:3002"},
	{name: "course", envKey: "COURSE_SERVICE_URL", url: "http://localhost:3003"},
	{name: "assessment", envKey: "ASSESSMENT_SERVICE_URL", url: "http://localhost:3004"},
	{name: "media", envKey: "MEDIA_SERVICE_URL", url: "http://localhost:3005"},
	{name: "notification", envKey: "NOTIFICATION_SERVICE_URL", url: "http://localhost:3006"},
}

// Config はGatewayサービスの設定。起動時に一度だけ読み込む。
type Config struct {
	// Port はリッスンポート。
	Port string
	// Services は上流サービスのレジストリ。
	Services ServiceRegistry
	// Routes はルーティングテーブルに登録するルート。
	Routes []RouteEntry
	// UpstreamTimeout は上流サービス1回の呼び出しのタイムアウト。
	UpstreamTimeout time.Duration
	// AllowedOrigins はCORSで許可するオリジン。"*" は全オリジンを許可する。
	AllowedOrigins []string
	// JWTSecret が空でない場合、保護ルートでJWTを検証する。
	JWTSecret string
	// DBPath が空でない場合、アクセスログをSQLiteに記録する。
	DBPath string
}

// LoadConfig は環境変数からGatewayの設定を読み込む。
func LoadConfig() (*Config, error) {
	return loadConfig(os.Getenv)
}

// loadConfig は getenv で取得した値から設定を組み立てる。
func loadConfig(getenv func(string) string) (*Config, error) {
	getEnvOr := func(key, defaultValue string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return defaultValue
	}

	endpoints := make([]ServiceEndpoint, 0, len(serviceDefaults))
	for _, d := range serviceDefaults {
		endpoints = append(endpoints, ServiceEndpoint{Name: d.name, URL: getEnvOr(d.envKey, d.url)})
	}
	registry, err := NewServiceRegistry(endpoints...)
	if err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(getEnvOr("UPSTREAM_TIMEOUT", "30s"))
	if err != nil || timeout <= 0 {
		return nil, &ConfigurationError{Reason: "UPSTREAM_TIMEOUT が不正です: " + getenv("UPSTREAM_TIMEOUT")}
	}

	var routes []RouteEntry
	if path := getenv("GATEWAY_ROUTES_FILE"); path != "" {
		routes, err = LoadRoutesFile(path, registry)
		if err != nil {
			return nil, err
		}
	} else {
		routes, err = DefaultRoutes(registry)
		if err != nil {
			return nil, err
		}
	}

	return &Config{
		Port:            getEnvOr("PORT", "3000"),
		Services:        registry,
		Routes:          routes,
		UpstreamTimeout: timeout,
		AllowedOrigins:  splitOrigins(getEnvOr("CORS_ALLOWED_ORIGINS", "*")),
		JWTSecret:       getenv("JWT_SECRET"),
		DBPath:          getenv("GATEWAY_DB_PATH"),
	}, nil
}

// DefaultRoutes は既定のルート一覧を返す。
// /auth はプレフィックスを取り除き、それ以外はパスをそのまま転送する。
func DefaultRoutes(registry ServiceRegistry) ([]RouteEntry, error) {
	return resolveRoutes(registry, []routeSpec{
		{Prefix: "/auth", Service: "auth", Rewrite: &RewriteRule{From: "/auth", To: ""}},
		{Prefix: "/users", Service: "user", Protected: true},
		{Prefix: "/courses", Service: "course", Protected: true},
		{Prefix: "/assessments", Service: "assessment", Protected: true},
		{Prefix: "/media", Service: "media", Protected: true},
	})
}

// routesFile はルート定義ファイル（YAML）の形式。
type routesFile struct {
	Routes []routeSpec `yaml:"routes"`
}

// routeSpec はルート定義ファイル内の1ルート。
type routeSpec struct {
	Prefix string `yaml:"prefix"`
	// Service はレジストリ上のサービス名。
	Service string `yaml:"service"`
	// Upstream を指定した場合はレジストリのURLより優先する。
	Upstream string `yaml:"upstream"`
	// Rewrite を省略した場合はパスをそのまま転送する。
	Rewrite         *RewriteRule `yaml:"rewrite"`
	Protected       bool         `yaml:"protected"`
	SegmentBoundary bool         `yaml:"segment_boundary"`
}

// LoadRoutesFile はYAMLファイルからルート一覧を読み込む。
func LoadRoutesFile(path string, registry ServiceRegistry) ([]RouteEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ルート定義ファイルの読み込みに失敗: %w", err)
	}
	return parseRoutes(data, registry)
}

// parseRoutes はYAMLのルート定義を解釈する。
func parseRoutes(data []byte, registry ServiceRegistry) ([]RouteEntry, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("ルート定義ファイルの解析に失敗: %v", err)}
	}
	if len(f.Routes) == 0 {
		return nil, &ConfigurationError{Reason: "ルート定義が空です"}
	}
	return resolveRoutes(registry, f.Routes)
}

// resolveRoutes はサービス名をレジストリのURLに解決してルートを生成する。
func resolveRoutes(registry ServiceRegistry, specs []routeSpec) ([]RouteEntry, error) {
	routes := make([]RouteEntry, 0, len(specs))
	for _, spec := range specs {
		upstream := spec.Upstream
		if upstream == "" {
			u, ok := registry.URL(spec.Service)
			if !ok {
				return nil, &ConfigurationError{Prefix: spec.Prefix, Reason: "未登録のサービスです: " + spec.Service}
			}
			upstream = u
		}
		rewrite := PreservePrefix(spec.Prefix)
		if spec.Rewrite != nil {
			rewrite = *spec.Rewrite
		}
		routes = append(routes, RouteEntry{
			Prefix:          spec.Prefix,
			Service:         spec.Service,
			UpstreamBaseURL: upstream,
			Rewrite:         rewrite,
			Protected:       spec.Protected,
			SegmentBoundary: spec.SegmentBoundary,
		})
	}
	return routes, nil
}

// splitOrigins はカンマ区切りのオリジン一覧を分割する。
func splitOrigins(v string) []string {
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
