package cloudflush

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/storage"
)

// chunkManager composes uploaded chunk objects into one final object,
// splitting into intermediate composes when the chunk count exceeds GCS's
// 32-source compose limit.
type chunkManager struct {
	maxChunksPerCompose int
}

func newChunkManager(maxChunksPerCompose int) *chunkManager {
	if maxChunksPerCompose <= 0 {
		maxChunksPerCompose = 32
	}
	return &chunkManager{maxChunksPerCompose: maxChunksPerCompose}
}

// composeOpts carries the segment metadata and expected final size through
// to whichever compose path (single or multi-level) ends up producing the
// object, so a caller composing hundreds of chunks across several
// intermediate levels still gets one object stamped with its originating
// segment's subsystem tag and verified against the byte count the uploader
// actually sent.
type composeOpts struct {
	metadata     map[string]string
	cacheControl string
	expectedSize int64
}

func (cm *chunkManager) Compose(ctx context.Context, client *storage.Client, bucket, object string, chunkObjects []string, opts composeOpts) error {
	if len(chunkObjects) <= cm.maxChunksPerCompose {
		return cm.singleCompose(ctx, client, bucket, object, chunkObjects, opts)
	}
	return cm.multiLevelCompose(ctx, client, bucket, object, chunkObjects, opts)
}

func (cm *chunkManager) singleCompose(ctx context.Context, client *storage.Client, bucket, object string, chunkObjects []string, opts composeOpts) error {
	if len(chunkObjects) == 0 {
		return fmt.Errorf("no chunks to compose")
	}
	if len(chunkObjects) > cm.maxChunksPerCompose {
		return fmt.Errorf("too many chunks (%d), max is %d", len(chunkObjects), cm.maxChunksPerCompose)
	}

	bkt := client.Bucket(bucket)
	dst := bkt.Object(object)

	sources := make([]*storage.ObjectHandle, len(chunkObjects))
	for i, chunkObj := range chunkObjects {
		sources[i] = bkt.Object(chunkObj)
	}

	composer := dst.ComposerFrom(sources...)
	composer.ContentType = "application/octet-stream"
	composer.Metadata = opts.metadata
	if opts.cacheControl != "" {
		composer.CacheControl = opts.cacheControl
	}
	attrs, err := composer.Run(ctx)
	if err != nil {
		return fmt.Errorf("compose failed: %w", err)
	}
	return verifyComposedSize(object, attrs.Size, opts.expectedSize)
}

// verifyComposedSize catches a torn or partial compose: GCS reports the
// composed object's size in the response, so there is no need for a
// separate round-trip to check it against what the uploader actually sent
// before the chunks were cleaned up. expectedSize of 0 means the caller
// (an intermediate compose step) doesn't know the final size yet, so no
// check is made.
func verifyComposedSize(object string, gotSize, expectedSize int64) error {
	if expectedSize <= 0 {
		return nil
	}
	if gotSize != expectedSize {
		return fmt.Errorf("composed object %s has size %d, expected %d", object, gotSize, expectedSize)
	}
	return nil
}

func (cm *chunkManager) multiLevelCompose(ctx context.Context, client *storage.Client, bucket, object string, chunkObjects []string, opts composeOpts) error {
	var intermediateObjects []string
	for i := 0; i < len(chunkObjects); i += cm.maxChunksPerCompose {
		end := i + cm.maxChunksPerCompose
		if end > len(chunkObjects) {
			end = len(chunkObjects)
		}
		group := chunkObjects[i:end]
		intermediateObj := fmt.Sprintf("%s.intermediate.%d", object, i/cm.maxChunksPerCompose)

		if err := cm.singleCompose(ctx, client, bucket, intermediateObj, group, composeOpts{}); err != nil {
			cm.cleanupObjects(ctx, client, bucket, intermediateObjects)
			return fmt.Errorf("failed to compose intermediate object %s: %w", intermediateObj, err)
		}
		intermediateObjects = append(intermediateObjects, intermediateObj)
	}

	if len(intermediateObjects) <= cm.maxChunksPerCompose {
		if err := cm.singleCompose(ctx, client, bucket, object, intermediateObjects, opts); err != nil {
			cm.cleanupObjects(ctx, client, bucket, intermediateObjects)
			return err
		}
		cm.cleanupObjects(ctx, client, bucket, intermediateObjects)
		return nil
	}

	if err := cm.multiLevelCompose(ctx, client, bucket, object, intermediateObjects, opts); err != nil {
		cm.cleanupObjects(ctx, client, bucket, intermediateObjects)
		return err
	}
	cm.cleanupObjects(ctx, client, bucket, intermediateObjects)
	return nil
}

func (cm *chunkManager) cleanupObjects(ctx context.Context, client *storage.Client, bucket string, objects []string) {
	bkt := client.Bucket(bucket)
	for _, obj := range objects {
		if err := bkt.Object(obj).Delete(ctx); err != nil {
			log.Printf("[WARNING] cloudflush: failed to clean up chunk object %s: %v", obj, err)
		}
	}
}
