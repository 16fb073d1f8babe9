// Package scigoex routes scikit-learn compatible estimators to accelerated
// implementations when their configuration and input allow it, and to the
// estimators' own reference implementations otherwise.
//
// scigoex は推定器のメソッドを、条件を満たす場合にアクセラレーテッド実装へ
// 振り分けるディスパッチ層です。振り分けられない呼び出しは元の参照実装で実行され、
// 戻り値・エラー・学習済み属性は参照実装と同じ契約を守ります。
//
// # Quick Start
//
//	rt, err := scigoex.New(config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	if _, err := rt.Patch(); err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Unpatch()
//
//	km := cluster.NewKMeans(cluster.WithKMeansNClusters(3))
//	err = km.Fit(X, nil) // dense X runs the accelerated Lloyd kernel
//
// # Packages
//
//   - dispatch: capability predicates, backend policy and the dispatcher
//   - patch: method slots and the apply/revert registry
//   - patches/...: predicates and patch entries per estimator family
//   - accel: accelerated kernels running on a device.Queue
//   - device: host description, native driver loading, device queues
//   - sklearn/cluster, sklearn/decomposition, preprocessing: reference estimators
//   - core/data, core/model, core/parallel: shared input, state and worker helpers
//   - pkg/config, pkg/log, pkg/errors, pkg/version: ambient infrastructure
//
// # Backend order
//
// Backends are tried in the configured order, device then host by default.
// The reference implementation is always last. Each call evaluates the
// predicate fresh, runs exactly one implementation and never retries a
// failed accelerated call on another backend.
package scigoex
