// Package minio provides a blobstore.Store backed by MinIO or any other
// S3-compatible object storage, using the MinIO Go client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "assets", "project-a/")
//	m, err := rescache.New(store)
//
// Stat reports the object's LastModified time, which the resource cache
// compares to detect stale compiled artifacts. Uploads stream through a pipe
// and become visible when the writable blob is closed.
package minio
