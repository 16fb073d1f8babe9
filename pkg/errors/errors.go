// Package errors はscigoex全体のエラーハンドリングと警告システムを提供します。
// ディスパッチ層が呼び出し元に見せるエラーは ConfigurationError、UnsupportedInputError、
// DispatchInternalError の3種類に限定され、それ以外は参照実装のエラーがそのまま伝播します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("scigoex-Warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します。nilを渡すと解除されます。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// ConvergenceWarning は最適化アルゴリズムが収束しなかった場合に発生する警告です。
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations. Consider increasing max_iter or adjusting tol.", w.Algorithm, w.Iterations)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning は新しいConvergenceWarningを作成します。
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` や `Transform` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("scigoex: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) axisName() string {
	if e.Axis == 0 {
		return "rows"
	}
	return "features"
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("scigoex: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, e.axisName(), e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", e.axisName()).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scigoex: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("scigoex: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ModelError は機械学習モデルに関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scigoex: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("scigoex: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// ===========================================================================
//
//	ディスパッチ層のエラー型
//
// ===========================================================================

// ConfigurationError はディスパッチ設定が矛盾している場合のエラーです。
// 参照実装が存在しない経路しか残らない場合や、デバイス指定がホストフォールバックを禁止している
// のにデバイスで実行できない場合などに返されます。
type ConfigurationError struct {
	Scope  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Scope == "" {
		return fmt.Sprintf("scigoex: configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("scigoex: %s: configuration error: %s", e.Scope, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigurationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("scope", e.Scope).
		Str("reason", e.Reason).
		Str("type", "ConfigurationError")
}

// NewConfigurationError は新しいConfigurationErrorを作成し、スタックトレースを付与します。
func NewConfigurationError(scope, reason string) error {
	return errors.WithStack(&ConfigurationError{Scope: scope, Reason: reason})
}

// NewConfigurationErrorf はフォーマット済みの理由でConfigurationErrorを作成します。
func NewConfigurationErrorf(scope, format string, args ...interface{}) error {
	return NewConfigurationError(scope, fmt.Sprintf(format, args...))
}

// UnsupportedInputError は参照実装自身が入力を受け付けない場合のエラーです。
// ディスパッチ層はこのエラーを変換せずにそのまま呼び出し元へ返します。
type UnsupportedInputError struct {
	Estimator string
	Reason    string
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("scigoex: %s: unsupported input: %s", e.Estimator, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *UnsupportedInputError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("estimator", e.Estimator).
		Str("reason", e.Reason).
		Str("type", "UnsupportedInputError")
}

// NewUnsupportedInputError は新しいUnsupportedInputErrorを作成し、スタックトレースを付与します。
func NewUnsupportedInputError(estimator, reason string) error {
	return errors.WithStack(&UnsupportedInputError{Estimator: estimator, Reason: reason})
}

// DispatchInternalError はディスパッチ層の内部不整合を表す致命的なエラーです。
// 述語に登録されていないメソッド名が問い合わせられた場合に返され、握りつぶしてはいけません。
type DispatchInternalError struct {
	Scope  string
	Method string
	Reason string
}

func (e *DispatchInternalError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown method"
	}
	return fmt.Sprintf("scigoex: %s: dispatch internal error: %s %q", e.Scope, reason, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DispatchInternalError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("scope", e.Scope).
		Str("method", e.Method).
		Str("reason", e.Reason).
		Str("type", "DispatchInternalError")
}

// NewDispatchInternalError は未知のメソッドに対するDispatchInternalErrorを作成します。
func NewDispatchInternalError(scope, method string) error {
	return errors.WithStack(&DispatchInternalError{Scope: scope, Method: method})
}

// NewDispatchInternalErrorf は理由付きのDispatchInternalErrorを作成します。
func NewDispatchInternalErrorf(scope, method, format string, args ...interface{}) error {
	return errors.WithStack(&DispatchInternalError{Scope: scope, Method: method, Reason: fmt.Sprintf(format, args...)})
}

// IsConfigurationError はerrがConfigurationErrorを含むかを判定します。
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsUnsupportedInput はerrがUnsupportedInputErrorを含むかを判定します。
func IsUnsupportedInput(err error) bool {
	var target *UnsupportedInputError
	return errors.As(err, &target)
}

// IsDispatchInternal はerrがDispatchInternalErrorを含むかを判定します。
func IsDispatchInternal(err error) bool {
	var target *DispatchInternalError
	return errors.As(err, &target)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithHint はユーザー向けのヒントをエラーに付与します。
func WithHint(err error, hint string) error {
	return errors.WithHint(err, hint)
}

// FlattenHints はエラーチェーン上のヒントを改行区切りで返します。
func FlattenHints(err error) string {
	return errors.FlattenHints(err)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix は特異行列の場合のエラーです。
	ErrSingularMatrix = New("singular matrix")

	// ErrAlreadyPatched は既にパッチ済みのメソッドに再度適用しようとした場合のエラーです。
	ErrAlreadyPatched = New("already patched")

	// ErrNotPatched はパッチされていないメソッドを元に戻そうとした場合のエラーです。
	ErrNotPatched = New("not patched")

	// ErrDeviceUnavailable は要求されたデバイスが利用できない場合のエラーです。
	ErrDeviceUnavailable = New("device unavailable")
)
