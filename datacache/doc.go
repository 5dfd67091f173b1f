// Package datacache stores blobs by content hash in a local store backed by
// an optional shared remote store.
//
//	local := blobstore.NewLocalStore("cache/local")
//	remote := minio.NewStore(client, bucket, "cache")
//	c := datacache.New(local, remote)
//
//	h := datacache.HashOf(source)
//	if ok, _ := c.Exists(ctx, h); !ok {
//	    _ = c.Write(ctx, h, compile(source))
//	}
//	data, err := c.Read(ctx, h)
//
// Blobs live under "xx/yy/<hash>/data", where xx and yy are the hex values
// of the last two hash bytes. Writes go to the local store first and are
// then copied to the remote store. Reads prefer the local store and fill it
// from the remote store on a miss.
package datacache
