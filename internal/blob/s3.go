package blob

import (
	"bytes"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var _ Store = (*s3Store)(nil)

type s3Store struct {
	profile     string
	region      string
	bucket      string
	accessKey   string
	secretKey   string
	client      *s3.S3
}

func newS3Store(c Config) Store {
	return &s3Store{
		profile:   c.S3Profile,
		region:    c.S3Region,
		bucket:    c.S3Bucket,
		accessKey: c.S3AccessKey,
		secretKey: c.S3SecretKey,
	}
}

func (s *s3Store) Get(key Key) (contents Value, err error) {
	if err := s.ensureClient(); err != nil {
		return nil, err
	}
	output, err := s.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(key)),
	})
	if err != nil {
		if rfErr, ok := err.(awserr.RequestFailure); ok {
			if rfErr.StatusCode() == http.StatusNotFound {
				return nil, errors.Wrapf(ErrNotFound, "key=%q err=%+v", key, err)
			}
		}
		return nil, err
	}
	defer func() {
		if err := output.Body.Close(); err != nil {
			log.WithFields(log.Fields{
				"op":  "get",
				"key": key,
			}).Warning("Could not close response body")
		}
	}()
	return io.ReadAll(output.Body)
}

func (s *s3Store) Put(key Key, value Value) (err error) {
	err = s.ensureClient()
	if err == nil {
		_, err = s.client.PutObject(&s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(string(key)),
			Body:   bytes.NewReader(value),
		})
	}
	return
}

func (s *s3Store) Delete(key Key) error {
	if err := s.ensureClient(); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(key)),
	})
	return err
}

// ForEach walks every object in the bucket, calling cb with each key.
func (s *s3Store) ForEach(cb func(Key) error) error {
	if err := s.ensureClient(); err != nil {
		return err
	}
	input := &s3.ListObjectsInput{Bucket: aws.String(s.bucket)}
	for {
		output, err := s.client.ListObjects(input)
		if err != nil {
			return err
		}
		for _, o := range output.Contents {
			if err := cb(Key(*o.Key)); err != nil {
				return err
			}
		}
		if output.NextMarker == nil {
			break
		}
		input.Marker = output.NextMarker
	}
	return nil
}

func (s *s3Store) Contains(key Key) (bool, error) {
	if err := s.ensureClient(); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(key)),
	})
	if err != nil {
		if rfErr, ok := err.(awserr.RequestFailure); ok && rfErr.StatusCode() == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *s3Store) ensureClient() error {
	if s.client != nil {
		return nil
	}
	cfg := &aws.Config{Region: aws.String(s.region)}
	if s.accessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(s.accessKey, s.secretKey, "")
	} else if s.profile != "" {
		cfg.Credentials = credentials.NewSharedCredentials("", s.profile)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return err
	}
	s.client = s3.New(sess)
	return nil
}
