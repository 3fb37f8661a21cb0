package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Runner executes an external command. Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		zap.L().Debug("ocr: exec failed",
			zap.String("cmd", name),
			zap.Strings("args", args),
			zap.Duration("duration", time.Since(start)),
			zap.String("stderr", errb.String()),
			zap.Error(err),
		)
		return out.Bytes(), errb.Bytes(), err
	}

	zap.L().Debug("ocr: exec ok",
		zap.String("cmd", name),
		zap.Duration("duration", time.Since(start)),
		zap.Int("stdout_bytes", out.Len()),
	)
	return out.Bytes(), errb.Bytes(), nil
}
