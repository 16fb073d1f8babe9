package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"

	scigoerrors "github.com/YuminosukeSato/scigoex/pkg/errors"
)

// ErrFmtHandler is a slog handler that expands the error attribute of a
// record: the cockroachdb/errors stacktrace, the error type, hints and the
// dispatch scope carried by the error chain.
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler wraps a slog handler so that records carrying an
// ErrAttrKey attribute also get the attributes of errorContext.
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{
		handler: handler,
	}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var (
		err     error
		present = map[string]bool{}
	)
	r.Attrs(func(attr slog.Attr) bool {
		present[attr.Key] = true
		if attr.Key == ErrAttrKey {
			err, _ = attr.Value.Any().(error)
		}
		return true
	})
	if err == nil {
		return eh.handler.Handle(ctx, r)
	}

	if stacktrace := extractStacktrace(err); stacktrace != "" {
		r.AddAttrs(slog.String(StacktraceAttrKey, stacktrace))
	}
	fields := errorContext(err)
	for i := 0; i+1 < len(fields); i += 2 {
		key := fields[i].(string)
		// 呼び出し側が明示した値を優先する
		if !present[key] {
			r.AddAttrs(slog.Any(key, fields[i+1]))
		}
	}
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

// errorContext returns key/value pairs describing err: ErrorTypeKey,
// SuggestionKey when the chain carries hints, and the dispatch scope and
// method of a DispatchInternalError or ConfigurationError.
func errorContext(err error) []any {
	fields := []any{ErrorTypeKey, errorType(err)}
	if hints := scigoerrors.FlattenHints(err); hints != "" {
		fields = append(fields, SuggestionKey, hints)
	}

	var (
		die *scigoerrors.DispatchInternalError
		ce  *scigoerrors.ConfigurationError
	)
	switch {
	case scigoerrors.As(err, &die):
		fields = append(fields, DispatchScopeKey, die.Scope, DispatchMethodKey, die.Method)
	case scigoerrors.As(err, &ce) && ce.Scope != "":
		fields = append(fields, DispatchScopeKey, ce.Scope)
	}
	return fields
}

// errorType names the innermost error of the chain, e.g. "errors.ValueError".
func errorType(err error) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", errors.UnwrapAll(err)), "*")
}

// withErrorContext appends errorContext for the ErrAttrKey field of fields,
// skipping keys the caller already set.
func withErrorContext(fields []any) []any {
	var err error
	present := make(map[string]bool, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		present[key] = true
		if key == ErrAttrKey {
			err, _ = fields[i+1].(error)
		}
	}
	if err == nil {
		return fields
	}
	extra := errorContext(err)
	for i := 0; i+1 < len(extra); i += 2 {
		if !present[extra[i].(string)] {
			fields = append(fields, extra[i], extra[i+1])
		}
	}
	return fields
}
