// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// パスプレフィックスによるルーティングテーブルを保持し、受信したリクエストを
// 最長一致したプレフィックスの上流サービス（auth, user, course, assessment, media）へ
// パスを書き換えて1回だけ転送する。上流のレスポンスはステータス・ヘッダー・ボディを
// そのまま呼び出し元へ返す。上流に到達できない場合は 502 を返し、自動リトライは行わない。
package gateway
