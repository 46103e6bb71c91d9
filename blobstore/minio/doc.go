// Package minio implements blobstore.BlobStore for MinIO and other
// S3-compatible object stores using minio-go.
package minio
