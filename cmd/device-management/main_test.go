package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bufferedLogger(t *testing.T) (*zap.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	ws := &zapcore.BufferedWriteSyncer{WS: zapcore.AddSync(&buf), Size: 1 << 20, FlushInterval: time.Hour}
	t.Cleanup(func() { _ = ws.Stop() })
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), ws, zapcore.DebugLevel)
	return zap.New(core), &buf
}

func TestExitCode_FlushesBeforeExit(t *testing.T) {
	log, buf := bufferedLogger(t)

	code := exitCode(log, errors.New("listen tcp :8080: address already in use"))

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "device-management exited")
	assert.Contains(t, buf.String(), "address already in use")
}

func TestExitCode_CleanShutdown(t *testing.T) {
	log, buf := bufferedLogger(t)
	log.Info("Shutting down")

	assert.Equal(t, 0, exitCode(log, nil))
	assert.Contains(t, buf.String(), "Shutting down")
}
