package command

import (
	"context"
	"strings"
	"time"

	gcmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-errors"
)

// CLIHandler exposes the surface sweep via CLI.
func (h *SweepSurfacesHandler) CLIHandler() any {
	return &sweepCLI{handler: h}
}

// CLIOptions describes sweep CLI metadata.
func (h *SweepSurfacesHandler) CLIOptions() gcmd.CLIConfig {
	return gcmd.CLIConfig{
		Path:        []string{"surfaces-sweep"},
		Description: "Release handed-off print surfaces past their max age",
		Group:       "print",
	}
}

type sweepCLI struct {
	handler *SweepSurfacesHandler
	MaxAge  string `kong:"name='max-age',help='Release surfaces older than this duration (e.g. 15m)'"`
}

func (c *sweepCLI) Run() error {
	if c == nil || c.handler == nil {
		return errors.New("sweep handler is required", errors.CategoryInternal).
			WithTextCode("SWEEP_HANDLER_REQUIRED")
	}
	maxAge, err := parseMaxAge(c.MaxAge)
	if err != nil {
		return err
	}
	return c.handler.Execute(context.Background(), SweepSurfaces{MaxAge: maxAge})
}

func parseMaxAge(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	maxAge, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryValidation, "max age is not a duration").
			WithTextCode("MAX_AGE_INVALID")
	}
	if maxAge < 0 {
		return 0, errors.New("max age must not be negative", errors.CategoryValidation).
			WithTextCode("MAX_AGE_INVALID")
	}
	return maxAge, nil
}
