package usage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// recordTimeout は操作完了後の記録に与える猶予。
const recordTimeout = 5 * time.Second

// ErrRateLimited は利用上限に達したため操作を実行しなかったことを表す。
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError は上限超過時の判定結果を持つエラー。errors.Is(err, ErrRateLimited)が真になる。
type LimitError struct {
	Decision Decision
}

// Error は超過したウィンドウと件数を含むメッセージを返す。
func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s (%d/%d)", e.Decision.LimitHit, e.Decision.Current, e.Decision.Limit)
}

// Unwrap はErrRateLimitedを返す。
func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Checker は利用上限を判定する。*Limiterが実装する。
type Checker interface {
	Check(ctx context.Context, tenantID string, cfg ActionConfig) (Decision, error)
}

// EventRecorder は利用イベントを記録する。*Recorderが実装する。
type EventRecorder interface {
	Record(ctx context.Context, tenantID, actionType string) error
}

var (
	_ Checker       = (*Limiter)(nil)
	_ EventRecorder = (*Recorder)(nil)
)

// Gate はチェック、操作、記録の順序をまとめて保証する。
type Gate struct {
	checker  Checker
	recorder EventRecorder
}

// NewGate はGateを生成する。
func NewGate(checker Checker, recorder EventRecorder) *Gate {
	return &Gate{checker: checker, recorder: recorder}
}

// Do は上限内であればfnを実行し、fnが成功した場合のみ利用を記録する。
// 上限超過時はfnを実行せず*LimitErrorを返す。
// 記録は呼び出し元のキャンセルから切り離したコンテキストで行う。
// チェックと記録の間は排他されないため、同時実行数だけ上限を超えうる。
func (g *Gate) Do(ctx context.Context, tenantID string, cfg ActionConfig, fn func(ctx context.Context) error) error {
	decision, err := g.checker.Check(ctx, tenantID, cfg)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &LimitError{Decision: decision}
	}

	if err := fn(ctx); err != nil {
		return err
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := g.recorder.Record(recordCtx, tenantID, cfg.Action); err != nil {
		return &RecordError{Err: err}
	}
	return nil
}

// RecordError は操作は成功したが利用の記録に失敗したことを表す。
type RecordError struct {
	Err error
}

// Error は記録失敗の原因を含むメッセージを返す。
func (e *RecordError) Error() string {
	return fmt.Sprintf("failed to record usage: %v", e.Err)
}

// Unwrap は記録失敗の原因を返す。
func (e *RecordError) Unwrap() error { return e.Err }
