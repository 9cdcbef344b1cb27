package dataloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/UkralStul/lesson-qa-sync/internal/domain"
	"github.com/UkralStul/lesson-qa-sync/internal/storage"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders holds the per-request loaders.
type Loaders struct {
	RepliesByQuestionID *dataloader.Loader
}

// NewLoaders builds fresh loaders over store. Their caches live as long as
// the returned value, so make one per request.
func NewLoaders(store storage.Storage) *Loaders {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		questionIDs := keys.Keys()

		// one storage call for the whole batch
		repliesMap, err := store.GetRepliesByQuestionIDs(ctx, questionIDs)
		results := make([]*dataloader.Result, len(keys))
		if err != nil {
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// results must line up with keys
		for i, id := range questionIDs {
			results[i] = &dataloader.Result{Data: repliesMap[id]}
		}
		return results
	}

	return &Loaders{
		RepliesByQuestionID: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond)),
	}
}

// Middleware puts fresh loaders into every request context.
func Middleware(store storage.Storage, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), key, NewLoaders(store))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// For returns the request's loaders, or nil outside Middleware.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(key).(*Loaders)
	return loaders
}

// Replies loads the replies of every question, batching the lookups.
func (l *Loaders) Replies(ctx context.Context, questionIDs []string) (map[string][]*domain.Reply, error) {
	thunks := make([]dataloader.Thunk, len(questionIDs))
	for i, id := range questionIDs {
		thunks[i] = l.RepliesByQuestionID.Load(ctx, dataloader.StringKey(id))
	}

	out := make(map[string][]*domain.Reply, len(questionIDs))
	for i, thunk := range thunks {
		data, err := thunk()
		if err != nil {
			return nil, fmt.Errorf("load replies of %s: %w", questionIDs[i], err)
		}
		replies, _ := data.([]*domain.Reply)
		out[questionIDs[i]] = replies
	}
	return out, nil
}
