// Package service は上流サービス（auth, user, course, assessment, media, notification）
// に共通するHTTPサーバーを提供する。
//
// 各サービスは現時点では GET /health のみを公開する。
package service
