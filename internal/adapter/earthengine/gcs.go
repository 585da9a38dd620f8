package earthengine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ExportedObject is one file written by a finished export.
type ExportedObject struct {
	Name string
	Size int64
}

// ListExports lists the GeoTIFF tiles an export wrote under prefix in bucket.
func ListExports(ctx context.Context, client *storage.Client, bucket, prefix string) ([]ExportedObject, error) {
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []ExportedObject
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err)
		}
		if !isExportTile(attrs.Name, prefix) {
			continue
		}
		out = append(out, ExportedObject{Name: attrs.Name, Size: attrs.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// isExportTile matches prefix.tif and the prefix-0000000000-0000000000.tif
// tiles written for large exports.
func isExportTile(name, prefix string) bool {
	base := path.Base(name)
	ext := strings.ToLower(path.Ext(base))
	if ext != ".tif" && ext != ".tiff" {
		return false
	}
	stem := strings.TrimSuffix(base, path.Ext(base))
	p := path.Base(prefix)
	return stem == p || strings.HasPrefix(stem, p+"-")
}
