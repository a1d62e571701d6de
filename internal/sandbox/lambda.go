package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"safe-code-exec/internal/config"
)

// lambdaPayload is the request sent to the pre-deployed execution function.
type lambdaPayload struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout"` // seconds, a hint for the function's own deadline
}

// lambdaEnvelope is the structured response of the function: an HTTP-style
// status code plus a body that may itself be a JSON-encoded string.
type lambdaEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// LambdaRunner executes the harness via a managed serverless function.
// Client construction failure makes the backend permanently unavailable
// for the process lifetime; the fact is recorded once and surfaced through
// Health, never re-raised per call.
type LambdaRunner struct {
	client       *lambda.Client
	functionName string
	initErr      string
}

func NewLambdaRunner(ctx context.Context, cfg config.LambdaConfig) *LambdaRunner {
	r := &LambdaRunner{functionName: cfg.FunctionName}

	if cfg.FunctionName == "" {
		r.initErr = "lambda function name not configured"
		log.Warn().Msg("lambda backend unavailable: no function name configured")
		return r
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		r.initErr = fmt.Sprintf("loading AWS config: %v", err)
		log.Warn().Err(err).Msg("lambda backend unavailable")
		return r
	}

	r.client = lambda.NewFromConfig(awsCfg)

	log.Info().
		Str("function", cfg.FunctionName).
		Str("region", cfg.Region).
		Msg("lambda execution client initialized")

	return r
}

func (r *LambdaRunner) Name() string { return "lambda" }

func (r *LambdaRunner) Health(_ context.Context) Health {
	if r.initErr != "" {
		return Health{Available: false, Reason: r.initErr}
	}
	return Health{Available: true}
}

// Run invokes the function synchronously. Platform throttling is reported
// as ErrThrottled and is not retried here.
func (r *LambdaRunner) Run(ctx context.Context, script string, timeout time.Duration) (*RunResult, error) {
	execID := uuid.New().String()

	if r.initErr != "" {
		return nil, &ExecutionError{ExecID: execID, Op: "invoke", Err: fmt.Errorf("%w: %s", ErrUnavailable, r.initErr)}
	}

	payload, err := json.Marshal(lambdaPayload{
		Code:    script,
		Timeout: int(timeout.Seconds()),
	})
	if err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "marshal_payload", Err: err}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	out, err := r.client.Invoke(invokeCtx, &lambda.InvokeInput{
		FunctionName:   aws.String(r.functionName),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	duration := time.Since(start)

	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			return &RunResult{ExecID: execID, ExitCode: -1, Duration: duration}, ErrTimeout
		}

		var throttled *lambdatypes.TooManyRequestsException
		if errors.As(err, &throttled) {
			return nil, &ExecutionError{ExecID: execID, Op: "invoke", Err: ErrThrottled}
		}

		return nil, &ExecutionError{ExecID: execID, Op: "invoke", Err: err}
	}

	// FunctionError means the function itself raised (including timeouts of
	// the remote deadline); the payload carries the diagnostic.
	if out.FunctionError != nil {
		return &RunResult{
			ExecID:   execID,
			ExitCode: 1,
			Stderr:   truncateOutput(string(out.Payload), 256*1024),
			Duration: duration,
		}, nil
	}

	result := &RunResult{ExecID: execID, Duration: duration}

	var envelope lambdaEnvelope
	if err := json.Unmarshal(out.Payload, &envelope); err != nil || envelope.StatusCode == 0 {
		// No envelope: treat the whole payload as output.
		result.Stdout = truncateOutput(string(out.Payload), 1<<20)
		return result, nil
	}

	body := unwrapBody(envelope.Body)
	if envelope.StatusCode == 200 {
		result.Stdout = truncateOutput(body, 1<<20)
	} else {
		result.ExitCode = 1
		result.Stderr = truncateOutput(body, 256*1024)
	}

	return result, nil
}

// unwrapBody handles the possibly-double-encoded body: the function may
// return a plain string, a JSON-encoded string, or arbitrary JSON.
func unwrapBody(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (r *LambdaRunner) Close() error { return nil }
