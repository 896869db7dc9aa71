package model

import "time"

// Session はユーザーのログインセッションを表す。
// セッションは外部の認証サービスが発行する。本サービスは読み取ってリクエストのオーナーIDを確定するだけで、
// ユーザーIDをそのままエントリのオーナーIDとして扱う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
