// Package groutine starts labelled goroutines and identifies the running one.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
)

const nameLabel = "goroutine"

// Go runs fn on a new goroutine whose pprof labels carry goroutine=name, so
// profiles and goroutine dumps group the scan and main loops by name. fn gets
// the labelled context. A nil ctx is treated as context.Background().
func Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go pprof.Do(ctx, pprof.Labels(nameLabel, name), fn)
}

// Name reads back the label Go attached to ctx.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := pprof.Label(ctx, nameLabel)
	return name
}

// ID parses the runtime id out of the "goroutine N [state]:" stack header.
// It is only fit for same-goroutine checks.
func ID() uint64 {
	var buf [64]byte
	header := bytes.Fields(buf[:runtime.Stack(buf[:], false)])
	if len(header) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(header[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
