// Package sf coalesces concurrent calls that share a key.
//
// The caching decorator uses it so that a burst of cold loads of one stream
// costs a single read:
//
//	var loads sf.Group[*entry]
//	e, shared, err := loads.Do(ctx, stream.String(), func(ctx context.Context) (*entry, error) {
//	    return load(ctx, stream)
//	})
package sf
