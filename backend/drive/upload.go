package drive

// defaultUploadChunkSize is the resumable-upload chunk size passed to
// googleapi.ChunkSize once a write crosses resumableThreshold. 8 MiB
// matches the teacher's own chunked-upload default for this backend.
const defaultUploadChunkSize = 8 * 1024 * 1024
