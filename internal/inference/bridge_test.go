package inference

import (
	"context"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsol/screening/internal/model"
)

func TestSubprocessInvoker_DescribeMissingArtifact(t *testing.T) {
	inv := NewSubprocessInvoker(SubprocessConfig{
		WrapperPath:  "wrapper.py",
		ArtifactPath: filepath.Join(t.TempDir(), "missing.joblib"),
		ModelType:    model.ModelTypeDecisionTree,
	})

	_, err := inv.Describe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model artifact")
}

func TestBridgeError(t *testing.T) {
	e := &BridgeError{Op: "invoke", Err: eris.New("exit status 1"), Stderr: "traceback"}
	assert.Contains(t, e.Error(), "invoke")
	assert.Contains(t, e.Error(), "traceback")
	assert.False(t, e.Retryable())
}

func TestBridgeError_RetryableOnTimeout(t *testing.T) {
	e := &BridgeError{Op: "invoke", Err: context.DeadlineExceeded}
	assert.True(t, e.Retryable())
}

func TestBridgeError_RetryableOnConnReset(t *testing.T) {
	e := &BridgeError{Op: "invoke", Err: syscall.ECONNRESET}
	assert.True(t, e.Retryable())
}

func TestBridgeError_NotRetryableOnCancel(t *testing.T) {
	e := &BridgeError{Op: "invoke", Err: context.Canceled}
	assert.False(t, e.Retryable())
}
