package pipeline

import (
	"fmt"

	"github.com/platinummonkey/repostats/pkg/indexer"
	"github.com/platinummonkey/repostats/pkg/storage"
)

// StageAll selects every stage
const StageAll = "all"

// Stages builds the indexers selected by name, in pipeline order
func Stages(name string, deps indexer.Deps) ([]indexer.Indexer, error) {
	kinds := storage.Kinds()
	if name != "" && name != StageAll {
		kind, err := storage.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		kinds = []storage.Kind{kind}
	}

	stages := make([]indexer.Indexer, 0, len(kinds))
	for _, kind := range kinds {
		ix, err := indexer.New(kind, deps)
		if err != nil {
			return nil, err
		}
		stages = append(stages, ix)
	}
	return stages, nil
}
