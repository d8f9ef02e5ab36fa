package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/model"
)

// jsonCodec stores any JSON-representable payload kind. T must
// implement model.Entity with value receivers.
type jsonCodec[T model.Entity] struct{}

func (jsonCodec[T]) Encode(e model.Entity) ([]byte, error) {
	v, ok := e.(T)
	if !ok {
		return nil, fmt.Errorf("unexpected payload kind %T", e)
	}
	return json.Marshal(v)
}

func (jsonCodec[T]) Decode(payload []byte) (model.Entity, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}
