// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Tile pages are written with a single PutObject call and read back whole
// with GetObject. Any client satisfying Client can be used, which keeps the
// store testable without network access.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "tiles/")
package s3
