package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meridianhq/mailsync/internal/models"
)

// ErrAssetNotFound is returned when a requested asset cannot be found.
var ErrAssetNotFound = errors.New("asset not found")

// PutBlob stores blob bytes under an opaque storage id.
func PutBlob(ctx context.Context, pool *pgxpool.Pool, storageID string, data []byte) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO blobs (storage_id, data) VALUES ($1, $2)
		ON CONFLICT (storage_id) DO NOTHING
	`, storageID, data)
	if err != nil {
		return fmt.Errorf("failed to put blob: %w", err)
	}
	return nil
}

// GetBlob fetches blob bytes by storage id.
func GetBlob(ctx context.Context, pool *pgxpool.Pool, storageID string) ([]byte, error) {
	var data []byte
	err := pool.QueryRow(ctx, `SELECT data FROM blobs WHERE storage_id = $1`, storageID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return data, nil
}

// DeleteBlob removes blob bytes by storage id.
func DeleteBlob(ctx context.Context, pool *pgxpool.Pool, storageID string) error {
	_, err := pool.Exec(ctx, `DELETE FROM blobs WHERE storage_id = $1`, storageID)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// UpsertAssetRef inserts an asset row with ref_count 1, or increments the
// count of an existing row. Returns true when the asset row is new (the
// caller must then store the blob).
func UpsertAssetRef(ctx context.Context, pool *pgxpool.Pool, asset *models.Asset) (bool, error) {
	var created bool
	err := pool.QueryRow(ctx, `
		INSERT INTO assets (id, storage_id, size_bytes, content_type, ref_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (id) DO UPDATE SET
			ref_count = assets.ref_count + 1,
			last_accessed_at = now()
		RETURNING (xmax = 0), ref_count
	`, asset.ID, asset.StorageID, asset.SizeBytes, asset.ContentType).Scan(&created, &asset.RefCount)

	if err != nil {
		return false, fmt.Errorf("failed to upsert asset reference: %w", err)
	}

	return created, nil
}

// ReleaseAssetRef decrements an asset's reference count. When the count
// reaches zero the asset row is deleted and its storage id is returned so
// the caller can delete the blob. Releasing an absent asset is a no-op.
func ReleaseAssetRef(ctx context.Context, pool *pgxpool.Pool, assetID string) (storageID string, deleted bool, err error) {
	var refCount int
	err = pool.QueryRow(ctx, `
		UPDATE assets SET ref_count = ref_count - 1
		WHERE id = $1
		RETURNING ref_count, storage_id
	`, assetID).Scan(&refCount, &storageID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to release asset reference: %w", err)
	}

	if refCount > 0 {
		return "", false, nil
	}

	if _, err := pool.Exec(ctx, `DELETE FROM assets WHERE id = $1 AND ref_count <= 0`, assetID); err != nil {
		return "", false, fmt.Errorf("failed to delete unreferenced asset: %w", err)
	}

	return storageID, true, nil
}

// GetAsset returns an asset row by id and bumps its last-accessed timestamp.
func GetAsset(ctx context.Context, pool *pgxpool.Pool, assetID string) (*models.Asset, error) {
	var asset models.Asset
	err := pool.QueryRow(ctx, `
		UPDATE assets SET last_accessed_at = now()
		WHERE id = $1
		RETURNING id, storage_id, size_bytes, content_type, ref_count, last_accessed_at
	`, assetID).Scan(
		&asset.ID,
		&asset.StorageID,
		&asset.SizeBytes,
		&asset.ContentType,
		&asset.RefCount,
		&asset.LastAccessedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return &asset, nil
}
