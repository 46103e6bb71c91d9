// Package tilestore persists tile contents outside the spatial index.
//
// A Store maps a model.TileID to the records of that tile. Four variants are
// substitutable behind the Store interface:
//
//   - Memory: tiles live on the heap
//   - Disk: every tile is paged into a bbolt file
//   - Buffered: a bounded in-memory write-back buffer in front of Disk
//   - Blob: tiles are objects in a blobstore.BlobStore (local, S3, MinIO)
//
// Swapping variants changes performance only. No variant is durable: Disk
// and Blob stores are cleared when opened, because the cache never trusts
// tile contents it did not fetch itself.
//
// Non-memory variants serialize tiles as self-describing pages (magic,
// version, compression, codec name, checksum). A page that fails
// verification reads as ErrCorruptPage.
package tilestore
