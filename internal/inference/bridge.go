// Package inference owns the classifier artifact lifecycle and scoring.
// The model runs out of process behind a JSON stdin/stdout bridge; the
// contract is bounded latency, a versioned artifact, and no hidden retries.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/talentsol/screening/internal/model"
	"github.com/talentsol/screening/internal/resilience"
)

// BridgeRequest is the JSON payload sent to the model wrapper process.
// Both job_role and job_roles are populated because the logistic-regression
// and decision-tree wrappers read different keys for the same column.
type BridgeRequest struct {
	ModelType      string `json:"model_type"`
	JobDescription string `json:"job_description"`
	Resume         string `json:"resume"`
	JobRole        string `json:"job_role"`
	JobRoles       string `json:"job_roles"`
	Ethnicity      string `json:"ethnicity"`
}

// BridgeBatchRequest scores several vectors in one wrapper invocation when
// the runtime supports vectorized scoring.
type BridgeBatchRequest struct {
	ModelType string          `json:"model_type"`
	Instances []BridgeRequest `json:"instances"`
}

// BridgeResponse is the wrapper's per-vector output.
type BridgeResponse struct {
	Probability   float64  `json:"probability"`
	Prediction    int      `json:"prediction"`
	ThresholdUsed float64  `json:"threshold_used"`
	Reasoning     []string `json:"reasoning"`
	ModelType     string   `json:"model_type"`
}

// BridgeBatchResponse wraps vectorized results.
type BridgeBatchResponse struct {
	Results []BridgeResponse `json:"results"`
}

// ModelInfo is returned by the wrapper's describe call at initialization.
// LibraryVersion is the scoring runtime version the artifact was trained
// against; a mismatch silently changes prediction semantics, so it is
// checked fatally at startup.
type ModelInfo struct {
	ModelType       string  `json:"model_type"`
	ModelVersion    string  `json:"model_version"`
	Threshold       float64 `json:"threshold"`
	TargetRecall    float64 `json:"target_recall"`
	TargetPrecision float64 `json:"target_precision"`
	LibraryVersion  string  `json:"library_version"`
	SupportsBatch   bool    `json:"supports_batch"`
}

// BridgeError reports a failed wrapper invocation. Timeout failures are
// retry-recommended; the pipeline itself never retries.
type BridgeError struct {
	Op     string
	Err    error
	Stderr string
}

func (e *BridgeError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("inference: bridge %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("inference: bridge %s: %v", e.Op, e.Err)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller should consider retrying.
func (e *BridgeError) Retryable() bool {
	return resilience.IsTransient(e.Err)
}

// Invoker abstracts the cross-process model call so the engine and
// pipeline can be tested without a Python runtime.
type Invoker interface {
	Describe(ctx context.Context) (*ModelInfo, error)
	Invoke(ctx context.Context, req *BridgeRequest) (*BridgeResponse, error)
	InvokeBatch(ctx context.Context, req *BridgeBatchRequest) (*BridgeBatchResponse, error)
}

// SubprocessInvoker runs the Python wrapper script once per call, passing
// the request on stdin and reading the result from stdout. The rate
// limiter bounds subprocess pressure under concurrent load.
type SubprocessInvoker struct {
	pythonBin    string
	wrapperPath  string
	artifactPath string
	modelType    model.ModelType
	limiter      *rate.Limiter
}

// SubprocessConfig holds the bridge process settings.
type SubprocessConfig struct {
	PythonBin        string
	WrapperPath      string
	ArtifactPath     string
	ModelType        model.ModelType
	InvokesPerSecond float64
	InvokeBurst      int
}

// NewSubprocessInvoker creates the production bridge.
func NewSubprocessInvoker(cfg SubprocessConfig) *SubprocessInvoker {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	rps := cfg.InvokesPerSecond
	if rps <= 0 {
		rps = 50
	}
	burst := cfg.InvokeBurst
	if burst <= 0 {
		burst = 10
	}
	return &SubprocessInvoker{
		pythonBin:    cfg.PythonBin,
		wrapperPath:  cfg.WrapperPath,
		artifactPath: cfg.ArtifactPath,
		modelType:    cfg.ModelType,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Describe verifies the artifact exists and asks the wrapper for model
// metadata. Failures here are configuration-fatal for the caller.
func (s *SubprocessInvoker) Describe(ctx context.Context) (*ModelInfo, error) {
	if _, err := os.Stat(s.artifactPath); err != nil {
		return nil, eris.Wrapf(err, "inference: model artifact %s", s.artifactPath)
	}

	out, err := s.run(ctx, nil, "--describe")
	if err != nil {
		return nil, err
	}

	var info ModelInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, eris.Wrap(err, "inference: decode model info")
	}
	return &info, nil
}

func (s *SubprocessInvoker) Invoke(ctx context.Context, req *BridgeRequest) (*BridgeResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "inference: encode bridge request")
	}

	out, err := s.run(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp BridgeResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, eris.Wrap(err, "inference: decode bridge response")
	}
	return &resp, nil
}

func (s *SubprocessInvoker) InvokeBatch(ctx context.Context, req *BridgeBatchRequest) (*BridgeBatchResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "inference: encode batch request")
	}

	out, err := s.run(ctx, payload, "--batch")
	if err != nil {
		return nil, err
	}

	var resp BridgeBatchResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, eris.Wrap(err, "inference: decode batch response")
	}
	if len(resp.Results) != len(req.Instances) {
		return nil, eris.Errorf("inference: batch returned %d results for %d instances", len(resp.Results), len(req.Instances))
	}
	return &resp, nil
}

// run executes one wrapper invocation. The caller's context carries the
// per-call deadline; the limiter wait counts against it.
func (s *SubprocessInvoker) run(ctx context.Context, stdin []byte, extraArgs ...string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &BridgeError{Op: "throttle", Err: err}
	}

	args := append([]string{s.wrapperPath, "--model-path", s.artifactPath, "--model-type", string(s.modelType)}, extraArgs...)
	cmd := exec.CommandContext(ctx, s.pythonBin, args...)

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Deadline and cancellation surface as the context error so the
		// retry recommendation is accurate.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, &BridgeError{Op: "invoke", Err: err, Stderr: stderr.String()}
	}

	return stdout.Bytes(), nil
}
