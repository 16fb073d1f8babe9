package model

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる。教師なしモデルは y に nil を受け取る
	Fit(X, y mat.Matrix) error
}

// Transformer はデータ変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// ContextFitter はコンテキスト付きで学習できるモデル。
// ディスパッチ先の選択（ターゲットデバイス）はコンテキストで渡される。
type ContextFitter interface {
	FitContext(ctx context.Context, X mat.Matrix) error
}

// ParameterGetter はハイパーパラメータを公開するモデル
type ParameterGetter interface {
	// GetParams はモデルのハイパーパラメータを返す
	GetParams() map[string]interface{}
}
