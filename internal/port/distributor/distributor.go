package distributor

import (
	"github.com/alanyang/task-mesh/internal/domain/controller"
)

// Distributor picks the controller that receives the next pending task.
// [SRP] Only selects. Sending and bookkeeping stay with the master.
type Distributor interface {
	Select(candidates []controller.Controller) (controllerID string, err error)
}
