package bus

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New selects the event bus carrying the analysis request, completed
// and alert topics. Community tier keeps the whole pipeline in one
// process on channels; Pro distributes it over NATS.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
