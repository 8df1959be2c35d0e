package gateway

import (
	"net/url"
	"strings"
)

// RewriteRule は転送前にリクエストパスへ適用する書き換え規則。
// パスが From で始まる場合、先頭の From を To に1回だけ置き換える。
type RewriteRule struct {
	// From は置き換え対象のパス先頭部分。
	From string `yaml:"from"`
	// To は置き換え後の文字列。空文字列の場合は From を取り除く。
	To string `yaml:"to"`
}

// StripPrefix はプレフィックスを取り除く書き換え規則を返す。
func StripPrefix(prefix string) RewriteRule {
	return RewriteRule{From: prefix, To: ""}
}

// PreservePrefix はパスをそのまま維持する書き換え規則を返す。
func PreservePrefix(prefix string) RewriteRule {
	return RewriteRule{From: prefix, To: prefix}
}

// Apply は書き換え規則をパスに適用する。結果が空の場合は "/" を返す。
func (r RewriteRule) Apply(path string) string {
	rest, found := strings.CutPrefix(path, r.From)
	if !found {
		return path
	}
	rewritten := r.To + rest
	if rewritten == "" {
		return "/"
	}
	if !strings.HasPrefix(rewritten, "/") {
		rewritten = "/" + rewritten
	}
	return rewritten
}

// RouteEntry は1つのパスファミリーの転送先を表す。
type RouteEntry struct {
	// Prefix はマッチングに使うパスプレフィックス（大文字小文字を区別する）。
	Prefix string
	// Service は転送先サービスの論理名。502レスポンスやメトリクスに使う。
	Service string
	// UpstreamBaseURL は転送先サービスのベースURL。
	UpstreamBaseURL string
	// Rewrite は転送前に適用するパスの書き換え規則。
	Rewrite RewriteRule
	// Protected がtrueの場合、JWT検証が有効なときにBearerトークンを要求する。
	Protected bool
	// SegmentBoundary がtrueの場合、プレフィックスの直後がパスの末尾か "/" のときだけ一致する。
	// false の場合は文字列としての前方一致で、"/auth" は "/authx" にも一致する。
	SegmentBoundary bool
}

// matches はパスがこのルートのプレフィックスに一致するかを返す。
func (e RouteEntry) matches(path string) bool {
	rest, found := strings.CutPrefix(path, e.Prefix)
	if !found {
		return false
	}
	if !e.SegmentBoundary || rest == "" || strings.HasSuffix(e.Prefix, "/") {
		return true
	}
	return rest[0] == '/'
}

// targetURL は受信リクエストのURLから転送先URLを組み立てる。
func (e RouteEntry) targetURL(in *url.URL) (string, error) {
	base, err := url.Parse(e.UpstreamBaseURL)
	if err != nil {
		return "", err
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + e.Rewrite.Apply(in.Path)
	base.RawPath = ""
	base.RawQuery = in.RawQuery
	return base.String(), nil
}

// RouteTable はプレフィックスの長い順に並んだルートの一覧。
// 起動時に構築し、Serverに渡した後は変更されないため、並行して読み取ってよい。
type RouteTable struct {
	entries []RouteEntry
	sealed  bool
}

// NewRouteTable は指定されたルートを登録したルーティングテーブルを生成する。
func NewRouteTable(entries ...RouteEntry) (*RouteTable, error) {
	t := &RouteTable{}
	for _, e := range entries {
		if err := t.Register(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register はルートを追加する。
// プレフィックスの重複や不正なURLの場合は *ConfigurationError を返す。
func (t *RouteTable) Register(e RouteEntry) error {
	if t.sealed {
		return &ConfigurationError{Prefix: e.Prefix, Reason: "サーバー起動後はルートを追加できません"}
	}
	if e.Prefix == "" || !strings.HasPrefix(e.Prefix, "/") {
		return &ConfigurationError{Prefix: e.Prefix, Reason: "プレフィックスは / で始まる必要があります"}
	}
	if e.Service == "" {
		return &ConfigurationError{Prefix: e.Prefix, Reason: "サービス名が空です"}
	}
	u, err := url.Parse(e.UpstreamBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigurationError{Prefix: e.Prefix, Reason: "上流サービスのURLが不正です: " + e.UpstreamBaseURL}
	}
	for _, existing := range t.entries {
		if existing.Prefix == e.Prefix {
			return &ConfigurationError{Prefix: e.Prefix, Reason: "プレフィックスが重複しています"}
		}
	}

	// 長いプレフィックスが先に評価されるよう挿入位置を決める
	i := len(t.entries)
	for j, existing := range t.entries {
		if len(e.Prefix) > len(existing.Prefix) {
			i = j
			break
		}
	}
	t.entries = append(t.entries, RouteEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
	return nil
}

// Match はパスに最長一致するルートを返す。
func (t *RouteTable) Match(path string) (RouteEntry, bool) {
	for _, e := range t.entries {
		if e.matches(path) {
			return e, true
		}
	}
	return RouteEntry{}, false
}

// Resolve はパスに最長一致するルートを返す。一致しない場合は *NoRouteMatchError を返す。
func (t *RouteTable) Resolve(path string) (RouteEntry, error) {
	e, ok := t.Match(path)
	if !ok {
		return RouteEntry{}, &NoRouteMatchError{Path: path}
	}
	return e, nil
}

// Entries は評価順のルート一覧のコピーを返す。
func (t *RouteTable) Entries() []RouteEntry {
	return append([]RouteEntry(nil), t.entries...)
}

// seal 以降の Register を禁止する。
func (t *RouteTable) seal() {
	t.sealed = true
}
