package fabric

import (
	"context"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/pkg/task"
)

// Sensor reports ready once its remote command exits with code 0.
type Sensor struct {
	Operator
}

var _ task.Sensor = (*Sensor)(nil)

func (s *Sensor) Poke(ctx context.Context, tc *task.Context) (bool, error) {
	res, err := s.RunCommand(ctx, tc)
	if err != nil {
		return false, err
	}
	common.GetLogger().WithComponent("fabric").Info("command exited", "exit_code", res.ExitCode)
	return res.ExitCode == 0, nil
}
