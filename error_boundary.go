package flagkit

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/flagkit/flagkit-go-client/network"
)

// errorBoundary keeps SDK failures away from the caller. Every failure is logged;
// the first failure of each class is also reported to sdk_exception.
type errorBoundary struct {
	net      *network.Network
	log      *slog.Logger
	disabled bool
	metadata func() map[string]string
	seen     sync.Map
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

func newErrorBoundary(net *network.Network, log *slog.Logger, disabled bool, metadata func() map[string]string) *errorBoundary {
	return &errorBoundary{net: net, log: log, disabled: disabled, metadata: metadata}
}

// capture runs fn and turns a panic into a report.
func (b *errorBoundary) capture(tag string, fn func()) {
	defer b.recover(tag)
	fn()
}

// captureValue runs fn and returns fallback if it panics.
func captureValue[T any](b *errorBoundary, tag string, fallback T, fn func() T) (out T) {
	out = fallback
	defer b.recover(tag)
	return fn()
}

func (b *errorBoundary) recover(tag string) {
	if r := recover(); r != nil {
		b.report(tag, &panicError{value: r, stack: debug.Stack()})
	}
}

// report logs err and posts it to sdk_exception once per error class.
func (b *errorBoundary) report(tag string, err error) {
	if err == nil {
		return
	}
	class := errorClass(err)
	b.log.Error("sdk error", "tag", tag, "class", class, "error", err)

	if _, dup := b.seen.LoadOrStore(class, struct{}{}); dup || b.disabled || b.net == nil {
		return
	}
	info := err.Error()
	var pe *panicError
	if errors.As(err, &pe) {
		info += "\n" + string(pe.stack)
	}
	body := map[string]any{
		"exception": class,
		"info":      info,
		"tag":       tag,
	}
	if b.metadata != nil {
		body["statsigMetadata"] = b.metadata()
	}
	b.net.SendFireAndForget(network.EndpointSDKException, body)
}

func errorClass(err error) string {
	var ne *network.Error
	if errors.As(err, &ne) {
		return ne.Class()
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("panic:%T", pe.value)
	}
	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	class := fmt.Sprintf("%T:%s", root, root.Error())
	if len(class) > 100 {
		class = class[:100]
	}
	return class
}
