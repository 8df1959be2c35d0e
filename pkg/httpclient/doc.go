// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// Gatewayが上流サービスの /health を問い合わせる際などに使用する。
// リクエストIDの伝播とタイムアウトの扱いを統一する。
package httpclient
