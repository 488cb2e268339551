package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/quarrydev/quarry/internal/errs"
)

// Walk traversal bounds. Remote trees are caller-supplied, so both depth
// and total object count are capped rather than trusted.
const (
	DefaultMaxDepth   = 16
	DefaultMaxObjects = 10000
)

// WalkOptions bounds a Walk traversal.
type WalkOptions struct {
	Prefix     string
	MaxDepth   int // 0 means DefaultMaxDepth
	MaxObjects int // 0 means DefaultMaxObjects
}

// Walk flattens the virtual directory tree under opts.Prefix into a single
// object list. The traversal is iterative with an explicit queue — one
// level per ListObjects call — so a deep or cyclic-looking key space can
// never blow the stack, and it stops once MaxDepth or MaxObjects is hit.
func Walk(ctx context.Context, store Store, bucket string, opts WalkOptions) ([]ObjectInfo, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	maxObjects := opts.MaxObjects
	if maxObjects <= 0 {
		maxObjects = DefaultMaxObjects
	}

	type prefixEntry struct {
		prefix string
		depth  int
	}

	queue := []prefixEntry{{prefix: opts.Prefix, depth: 0}}
	var files []ObjectInfo

	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		listed, err := store.ListObjects(ctx, bucket, ListOptions{
			Prefix:    entry.prefix,
			Recursive: false,
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range listed {
			if obj.IsDir {
				if entry.depth+1 < maxDepth {
					queue = append(queue, prefixEntry{prefix: obj.Key, depth: entry.depth + 1})
				}
				continue
			}
			files = append(files, obj)
			if len(files) >= maxObjects {
				return files, errs.New(errs.ErrKindInvalidInput,
					fmt.Sprintf("remote listing exceeds %d objects; narrow the prefix", maxObjects))
			}
		}
	}

	return files, nil
}

// DownloadTemp materializes one remote object as a local temp file and
// returns its path. The file keeps the object's extension so parser
// dispatch by extension still works; the caller removes it when done.
func DownloadTemp(ctx context.Context, store Store, bucket, key string) (string, error) {
	obj, err := store.GetObject(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	tmp, err := os.CreateTemp("", "quarry-*"+path.Ext(key))
	if err != nil {
		return "", errs.Wrap(errs.ErrKindUnknown, "cannot create temp file", err)
	}

	if _, err := io.Copy(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errs.Wrap(errs.ErrKindConnectionFailed, "download failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errs.Wrap(errs.ErrKindUnknown, "cannot finalize temp file", err)
	}

	return tmp.Name(), nil
}
