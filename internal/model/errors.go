// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, tenant, usage, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeTenantRequired     = "TENANT_REQUIRED"
	ErrCodeTenantNotFound     = "TENANT_NOT_FOUND"
	ErrCodeTenantAccessDenied = "TENANT_ACCESS_DENIED"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeUnknownAction      = "UNKNOWN_ACTION"
	ErrCodeInvalidUpload      = "INVALID_UPLOAD"
	ErrCodeScanFailed         = "SCAN_FAILED"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeNotProvisioned     = "NOT_PROVISIONED"
	ErrCodeCSRFInvalid        = "CSRF_INVALID"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthenticatedError はセッションが無い・無効・期限切れの場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewTenantRequiredError はテナント指定が無い場合のエラーを生成する。
func NewTenantRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTenantRequired,
		Message:  "テナントが指定されていません。",
		Category: "tenant",
		Action:   "tenantパラメータにサブドメインを指定してください。",
	}
}

// NewTenantNotFoundError は指定テナントが存在しない場合のエラーを生成する。
func NewTenantNotFoundError(identifier string) *APIError {
	return &APIError{
		Code:     ErrCodeTenantNotFound,
		Message:  fmt.Sprintf("指定されたテナントが見つかりません: %s", identifier),
		Category: "tenant",
		Action:   "サブドメインを確認してください。",
	}
}

// NewTenantAccessDeniedError はテナントへのアクセス権が無い場合のエラーを生成する。
func NewTenantAccessDeniedError() *APIError {
	return &APIError{
		Code:     ErrCodeTenantAccessDenied,
		Message:  "このテナントへのアクセス権がありません。",
		Category: "auth",
		Action:   "テナントの管理者に招待を依頼してください。",
	}
}

// NewRateLimitExceededError は利用上限に達した場合のエラーを生成する。
func NewRateLimitExceededError(windowName string) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  fmt.Sprintf("利用上限に達しました: %s", windowName),
		Category: "usage",
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}

// NewUnknownActionError は未設定のアクション種別が指定された場合のエラーを生成する。
func NewUnknownActionError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownAction,
		Message:  fmt.Sprintf("不明なアクション種別です: %s", action),
		Category: "validation",
		Action:   "アクション種別を確認してください。",
	}
}

// NewInvalidUploadError はアップロードされたファイルが不正な場合のエラーを生成する。
func NewInvalidUploadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUpload,
		Message:  fmt.Sprintf("アップロードされたファイルが不正です: %s", reason),
		Category: "validation",
		Action:   "JPEGまたはPNG形式のレシート画像を指定してください。",
	}
}

// NewScanFailedError はレシート読み取りサービスが失敗した場合のエラーを生成する。
func NewScanFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeScanFailed,
		Message:  "レシートの読み取りに失敗しました。",
		Category: "usage",
		Action:   "しばらく待ってから再度お試しください。失敗した読み取りは利用回数に含まれません。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNotProvisionedError はアカウントも招待も存在しないメールアドレスでログインした場合のエラーを生成する。
func NewNotProvisionedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotProvisioned,
		Message:  "このメールアドレスのアカウントは登録されていません。",
		Category: "auth",
		Action:   "テナントの管理者に招待を依頼してください。",
	}
}

// NewCSRFError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewTooManyRequestsError はユーザー単位のAPIリクエスト数が上限を超えた場合のエラーを生成する。
func NewTooManyRequestsError() *APIError {
	return &APIError{
		Code:     ErrCodeTooManyRequests,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "指定された時間が経過してから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
