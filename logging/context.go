package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugTagKey struct{}

// WithDebug marks ctx so that debug entries logged through the C* methods with it are written
// even when the logger's level is higher. The tag shows which request turned debugging on; an
// empty tag gets a random one.
func WithDebug(ctx context.Context, tag string) context.Context {
	if tag == "" {
		tag = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugTagKey{}, tag)
}

// DebugTag returns the tag ctx was marked with by WithDebug, or "".
func DebugTag(ctx context.Context) string {
	if tag, ok := ctx.Value(debugTagKey{}).(string); ok {
		return tag
	}
	return ""
}
