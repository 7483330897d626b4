package cmd

import (
	"flag"
	"log"
	"path/filepath"

	"realskin-backend/internal/config"
	"realskin-backend/internal/enhance"
	"realskin-backend/internal/pipeline"
	"realskin-backend/internal/storage"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// NewImageStore builds the object store the input resolver reads from. With
// no S3 endpoint configured it falls back to a directory store under the
// volume, which is the shape local development uses.
func NewImageStore(cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.S3EndpointURL == "" && cfg.S3AccessKeyID == "" {
		return storage.NewLocalObjectStore(filepath.Join(cfg.VolumeDir, "buckets"), cfg.ImageBucketName)
	}

	return storage.NewS3ObjectStore(cfg.ImageBucketName, storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}

// NewOutputStore builds the store finished variants are uploaded to. A nil
// store (no output bucket configured) makes the processor report local paths
// instead, matching the serverless deployment where outputs stay on the
// volume.
func NewOutputStore(cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.OutputBucketName == "" {
		return nil, nil
	}

	if cfg.S3EndpointURL == "" && cfg.S3AccessKeyID == "" {
		return storage.NewLocalObjectStore(filepath.Join(cfg.VolumeDir, "buckets"), cfg.OutputBucketName)
	}

	return storage.NewS3ObjectStore(cfg.OutputBucketName, storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
}

// NewProcessor wires the job processor from config: input resolver, ComfyUI
// engine, and output store.
func NewProcessor(cfg *config.Config, db *gorm.DB) (*enhance.Processor, error) {
	imageStore, err := NewImageStore(cfg)
	if err != nil {
		return nil, err
	}

	outputStore, err := NewOutputStore(cfg)
	if err != nil {
		return nil, err
	}

	resolver := storage.NewResolver(imageStore, storage.ResolverConfig{
		DownloadDir:   filepath.Join(cfg.VolumeDir, "downloads"),
		FallbackImage: cfg.FallbackImage,
		Retries:       cfg.DownloadRetries,
		RetryDelay:    cfg.DownloadDelay,
	})

	engine := pipeline.NewComfyEngine(pipeline.ComfyConfig{
		Address:      cfg.ComfyAddress,
		Port:         cfg.ComfyPort,
		WorkflowPath: cfg.WorkflowPath,
		OutputDir:    filepath.Join(cfg.VolumeDir, "outputs"),
	})

	return enhance.NewProcessor(db, resolver, engine, outputStore, cfg.JobTimeout, cfg.DebugTraceback), nil
}

// UploadDir is where the API writes decoded base64 inputs. It lives on the
// shared volume so the worker can read it in split deployments.
func UploadDir(volumeDir string) string {
	return filepath.Join(volumeDir, "uploads")
}
