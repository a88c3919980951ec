package gateway

import (
	"fmt"

	"github.com/zandy2test/gumroad-sub034/pkg/enums"
	pkgerrors "github.com/zandy2test/gumroad-sub034/pkg/errors"
)

// Registry selects the adapter for a merchant account's processor. The
// selection happens once at the orchestration boundary; nothing below it
// branches on processor id.
type Registry struct {
	adapters map[enums.Processor]Adapter
}

// NewRegistry indexes adapters by processor. Duplicate processors are a
// wiring bug and fail fast.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	if len(adapters) == 0 {
		return nil, fmt.Errorf("at least one adapter is required")
	}
	indexed := make(map[enums.Processor]Adapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			return nil, fmt.Errorf("nil adapter provided")
		}
		processor := adapter.Processor()
		if !processor.IsValid() {
			return nil, fmt.Errorf("adapter reports invalid processor %q", processor)
		}
		if _, exists := indexed[processor]; exists {
			return nil, fmt.Errorf("duplicate adapter for processor %q", processor)
		}
		indexed[processor] = adapter
	}
	return &Registry{adapters: indexed}, nil
}

// For returns the adapter for the processor.
func (r *Registry) For(processor enums.Processor) (Adapter, error) {
	adapter, ok := r.adapters[processor]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no gateway adapter for processor %q", processor))
	}
	return adapter, nil
}
