package gateway

import "fmt"

// ConfigurationError はルート登録や設定値が不正であることを表す。
// 起動時に発生した場合は致命的エラーとして扱い、リッスンを開始してはならない。
type ConfigurationError struct {
	// Prefix は問題のあったルートのプレフィックス。設定値全体の問題では空。
	Prefix string
	// Reason はエラーの内容。
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Prefix == "" {
		return fmt.Sprintf("設定エラー: %s", e.Reason)
	}
	return fmt.Sprintf("設定エラー: prefix=%q: %s", e.Prefix, e.Reason)
}

// NoRouteMatchError はリクエストパスに一致するルートが存在しないことを表す。
// 呼び出し元には 404 として返し、システム障害としてはログに出さない。
type NoRouteMatchError struct {
	Path string
}

func (e *NoRouteMatchError) Error() string {
	return fmt.Sprintf("ルートが存在しません: path=%s", e.Path)
}

// UpstreamUnavailableError は上流サービスへの接続拒否、名前解決失敗、タイムアウトを表す。
type UpstreamUnavailableError struct {
	Service string
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("上流サービスに接続できません: service=%s: %v", e.Service, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// UpstreamMalformedResponseError は上流サービスのレスポンスを解釈できなかったことを表す。
type UpstreamMalformedResponseError struct {
	Service string
	Err     error
}

func (e *UpstreamMalformedResponseError) Error() string {
	return fmt.Sprintf("上流サービスのレスポンスが不正です: service=%s: %v", e.Service, e.Err)
}

func (e *UpstreamMalformedResponseError) Unwrap() error { return e.Err }
