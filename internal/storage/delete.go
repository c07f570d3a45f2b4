package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds in-flight batch requests for one Delete call
const batchConcurrency = 4

// DeleteOutcome is the result for a single key. Err is nil on success.
type DeleteOutcome struct {
	Key string `json:"key"`
	Err error  `json:"-"`
}

// DeleteResult holds one outcome per distinct requested key, in request order.
type DeleteResult []DeleteOutcome

// OK is true when every key was deleted. An empty result is OK.
func (r DeleteResult) OK() bool {
	for _, o := range r {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the outcomes that carry an error.
func (r DeleteResult) Failed() []DeleteOutcome {
	var failed []DeleteOutcome
	for _, o := range r {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err joins the per-key errors, or returns nil when OK.
func (r DeleteResult) Err() error {
	var errs []error
	for _, o := range r {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// DeleteFunc removes a single key.
type DeleteFunc func(ctx context.Context, key string) error

// BatchDeleteFunc removes a batch of keys and reports failures by key.
// Keys absent from the returned map are treated as deleted unless the
// batch-level error is non-nil, in which case every key in the batch failed.
type BatchDeleteFunc func(ctx context.Context, keys []string) (map[string]error, error)

// Deleter coordinates deletions for one backend.
type Deleter struct {
	Backend UploadType
	Logger  *slog.Logger
}

// Each deletes keys one at a time and never stops at the first failure.
func (d Deleter) Each(ctx context.Context, keys []string, del DeleteFunc) DeleteResult {
	result, valid := d.prepare(keys)
	for _, i := range valid {
		key := result[i].Key
		if err := del(ctx, key); err != nil {
			result[i].Err = Fail(d.Logger, ErrBackendDelete, d.Backend, OpDelete, key, err)
		}
	}
	d.logSummary(result)
	return result
}

// Batches splits keys into chunks of size and deletes them with a backend
// batch call, distributing the batch response back to individual keys.
func (d Deleter) Batches(ctx context.Context, keys []string, size int, del BatchDeleteFunc) DeleteResult {
	result, valid := d.prepare(keys)
	if size <= 0 {
		size = len(valid)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for start := 0; start < len(valid); start += size {
		chunk := valid[start:min(start+size, len(valid))]
		g.Go(func() error {
			batch := make([]string, len(chunk))
			for j, i := range chunk {
				batch[j] = result[i].Key
			}

			failures, err := del(gctx, batch)
			for _, i := range chunk {
				key := result[i].Key
				cause := err
				if cause == nil {
					cause = failures[key]
				}
				if cause != nil {
					result[i].Err = Fail(d.Logger, ErrBackendDelete, d.Backend, OpDelete, key, cause)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logSummary(result)
	return result
}

// prepare dedupes keys preserving order and rejects invalid ones up front.
// It returns the indexes of outcomes that still need a backend call.
func (d Deleter) prepare(keys []string) (DeleteResult, []int) {
	result := make(DeleteResult, 0, len(keys))
	valid := make([]int, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		outcome := DeleteOutcome{Key: key}
		if err := ValidateKey(key); err != nil {
			outcome.Err = &Error{Kind: ErrInvalidKey, Backend: d.Backend, Op: OpDelete, Key: key, Cause: err}
			d.Logger.Warn("rejected delete of invalid key", slog.String("backend", string(d.Backend)), slog.String("key", key))
		} else {
			valid = append(valid, len(result))
		}
		result = append(result, outcome)
	}
	return result, valid
}

func (d Deleter) logSummary(result DeleteResult) {
	if len(result) == 0 {
		return
	}
	failed := len(result.Failed())
	d.Logger.Info("delete finished",
		slog.String("backend", string(d.Backend)),
		slog.Int("count", len(result)),
		slog.Int("failed", failed),
	)
}

// MissingFromBatch marks keys a batch response did not mention as failed.
func MissingFromBatch(keys []string, reported map[string]struct{}, failures map[string]error) map[string]error {
	if failures == nil {
		failures = make(map[string]error)
	}
	for _, k := range keys {
		if _, ok := reported[k]; ok {
			continue
		}
		if _, ok := failures[k]; ok {
			continue
		}
		failures[k] = fmt.Errorf("key %q not reported by batch delete", k)
	}
	return failures
}
