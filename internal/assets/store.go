// Package assets is the content-addressed store for message bodies. Bodies
// are shared by reference count and garbage-collected when the count reaches
// zero; they are never deleted eagerly.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianhq/mailsync/internal/db"
	"github.com/meridianhq/mailsync/internal/models"
)

// Store manages body assets and their backing blobs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new asset store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AddressFor computes the content address for a message body. The current
// Outlook path addresses by (provider, external message id); a provider with
// true content deduplication would address by a content hash instead.
func AddressFor(p models.Provider, externalMessageID string) string {
	sum := sha256.Sum256([]byte(string(p) + ":" + externalMessageID))
	return hex.EncodeToString(sum[:])
}

// Acquire stores a body under the given content address and takes one
// reference. If the asset already exists, only the reference count moves and
// the incoming bytes are discarded. Blob inserts and the reference row are
// paired: an insert failure after the blob write removes the orphan blob so
// no reference-less blob is left behind.
func (s *Store) Acquire(ctx context.Context, assetID string, body []byte, contentType string) (*models.Asset, error) {
	asset := &models.Asset{
		ID:          assetID,
		StorageID:   "blob-" + assetID,
		SizeBytes:   int64(len(body)),
		ContentType: contentType,
	}

	if err := db.PutBlob(ctx, s.pool, asset.StorageID, body); err != nil {
		return nil, fmt.Errorf("failed to store body blob: %w", err)
	}

	created, err := db.UpsertAssetRef(ctx, s.pool, asset)
	if err != nil {
		if cleanupErr := db.DeleteBlob(ctx, s.pool, asset.StorageID); cleanupErr != nil {
			log.Printf("Warning: failed to clean up orphaned blob %s: %v", asset.StorageID, cleanupErr)
		}
		return nil, err
	}

	if !created && asset.RefCount > 1 {
		// Existing asset: the blob we just wrote was already there
		// (content-addressed ids collide only on identical addresses).
		log.Printf("Asset %s shared, ref count now %d", assetID, asset.RefCount)
	}

	return asset, nil
}

// Release drops one reference. At zero the asset row and its blob are
// deleted. Releasing an unknown asset id is a no-op.
func (s *Store) Release(ctx context.Context, assetID string) error {
	storageID, deleted, err := db.ReleaseAssetRef(ctx, s.pool, assetID)
	if err != nil {
		return err
	}

	if deleted {
		if err := db.DeleteBlob(ctx, s.pool, storageID); err != nil {
			return fmt.Errorf("failed to delete blob for collected asset %s: %w", assetID, err)
		}
	}

	return nil
}

// ReleaseAll drops one reference per asset id, logging and continuing on
// individual failures.
func (s *Store) ReleaseAll(ctx context.Context, assetIDs []string) {
	for _, assetID := range assetIDs {
		if err := s.Release(ctx, assetID); err != nil {
			log.Printf("Warning: failed to release asset %s: %v", assetID, err)
		}
	}
}

// Get returns the body bytes and content type for an asset.
func (s *Store) Get(ctx context.Context, assetID string) ([]byte, string, error) {
	asset, err := db.GetAsset(ctx, s.pool, assetID)
	if err != nil {
		return nil, "", err
	}

	body, err := db.GetBlob(ctx, s.pool, asset.StorageID)
	if err != nil {
		return nil, "", err
	}

	return body, asset.ContentType, nil
}
