package backup

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/yourusername/wordpress-backup/internal/logging"
)

// S3Destination stores archives in AWS S3 or S3-compatible storage
type S3Destination struct {
	config   *DestinationConfig
	s3Client *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination
func NewS3Destination(config *DestinationConfig) (*S3Destination, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.S3Region),
	}

	// Static keys when given, otherwise the default AWS credential chain
	if config.S3AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.S3AccessKey, config.S3SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if config.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)
	logging.L().Debug("Initialized S3 destination", "bucket", config.S3Bucket, "region", config.S3Region)

	return &S3Destination{
		config:   config,
		s3Client: client,
		uploader: s3manager.NewUploaderWithClient(client),
	}, nil
}

func (sd *S3Destination) key(filename string) string {
	return strings.TrimPrefix(path.Join(sd.config.Path, filename), "/")
}

// Upload streams an archive to S3, using multipart upload for large files
func (sd *S3Destination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	_, err := sd.uploader.Upload(&s3manager.UploadInput{
		Bucket:       aws.String(sd.config.S3Bucket),
		Key:          aws.String(sd.key(filename)),
		Body:         reader,
		ContentType:  aws.String("application/zip"),
		StorageClass: aws.String(s3.StorageClassStandard),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Download downloads an archive from S3
func (sd *S3Destination) Download(filename string, writer io.Writer) error {
	result, err := sd.s3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(sd.config.S3Bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(writer, result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object: %w", err)
	}
	return nil
}

// Delete removes an archive from S3
func (sd *S3Destination) Delete(filename string) error {
	_, err := sd.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(sd.config.S3Bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns all archives under the configured prefix
func (sd *S3Destination) List() ([]BackupFile, error) {
	prefix := strings.Trim(sd.config.Path, "/")
	if prefix != "" {
		prefix += "/"
	}

	var files []BackupFile
	err := sd.s3Client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(sd.config.S3Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, BackupFile{
				Filename:  path.Base(key),
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}
