// Package s3 provides a blobstore.Store backed by Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket", "project-a/")
//	if err != nil {
//	    return err
//	}
//	m, err := rescache.New(store)
//
// Stat maps HeadObject's LastModified onto blobstore.Info.ModTime. Small
// blobs are written with a single PutObject carrying a CRC32C checksum;
// larger ones stream through the multipart uploader.
package s3
