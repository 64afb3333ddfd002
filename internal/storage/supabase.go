package storage

import (
	"bytes"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// Config holds Supabase storage settings for uploaded check-in documents.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Supabase stores uploaded document bytes and hands back an object reference
// for the transcript. The transcript keeps references, never bytes.
type Supabase struct {
	client *supabase.Client
	bucket string
}

func NewSupabase(cfg Config) (*Supabase, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &Supabase{client: client, bucket: cfg.Bucket}, nil
}

// Upload writes the object and returns its bucket-relative reference.
func (s *Supabase) Upload(key, contentType string, data []byte) (string, error) {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to upload to supabase: %w", err)
	}
	return s.bucket + "/" + key, nil
}
