package appointment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hackgods/clinic-scheduling/internal/store"
)

func decodeList[T any](key string, data []byte) ([]T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

func load[T any](tx store.Txn, key string) ([]T, error) {
	return decodeList[T](key, tx.Get(key))
}

func save[T any](tx store.Txn, key string, list []T) error {
	if list == nil {
		list = []T{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tx.Put(key, data)
	return nil
}

func readList[T any](ctx context.Context, st store.Store, key string) ([]T, error) {
	data, err := st.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeList[T](key, data)
}

// AppendConsultations is the consultation-notes workflow's write path. The
// scheduling engine itself only reads this collection.
func AppendConsultations(ctx context.Context, st store.Store, consultations ...Consultation) error {
	return st.Update(ctx, []string{CollectionConsultations}, func(tx store.Txn) error {
		existing, err := load[Consultation](tx, CollectionConsultations)
		if err != nil {
			return err
		}
		return save(tx, CollectionConsultations, append(existing, consultations...))
	})
}
