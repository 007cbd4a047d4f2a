package memory

import (
	"bytes"
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// ArchiveConfig locates the storage bucket that receives sealed turn audio.
type ArchiveConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseArchive uploads WAV containers to Supabase storage. It satisfies
// bridge.Archiver.
type SupabaseArchive struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseArchive connects the storage client.
func NewSupabaseArchive(cfg ArchiveConfig) (*SupabaseArchive, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseArchive{client: client, bucket: cfg.Bucket}, nil
}

// Store uploads one sealed WAV under the given object key.
func (a *SupabaseArchive) Store(ctx context.Context, key string, wav []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.client.Storage.UploadFile(a.bucket, key, bytes.NewReader(wav)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
