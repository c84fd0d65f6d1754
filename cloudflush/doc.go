// Package cloudflush is the durability sync target the capacity package's
// flush coordinator drives: once a background sync crosses the written-
// bytes threshold, sealed checkpoint/log segment files are gzip-compressed
// and uploaded to cloud storage via a pooled gRPC client, using chunked
// parallel upload and compose for files larger than a single chunk.
package cloudflush
