package distributor

import (
	"errors"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	portdist "github.com/alanyang/task-mesh/internal/port/distributor"
)

var ErrNoControllerAvailable = errors.New("no controller with spare capacity")

var _ portdist.Distributor = (*Service)(nil)

// Service places tasks on the least-loaded alive controller.
// [SRP] Only selects controllers. The master owns the registry it is handed.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Select returns the dispatchable candidate with the lowest load.
// Ties go to the lexicographically lowest id so placement is deterministic.
func (s *Service) Select(candidates []controller.Controller) (string, error) {
	var best *controller.Controller
	for i := range candidates {
		c := &candidates[i]
		if !c.Dispatchable() {
			continue
		}
		if best == nil || c.Load < best.Load || (c.Load == best.Load && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return "", ErrNoControllerAvailable
	}
	return best.ID, nil
}
