package storage

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/cuemby/nebula/pkg/bali"
	"github.com/cuemby/nebula/pkg/config"
	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/notary"
	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
)

// S3 is the cloud object-store backend. Five buckets keyed by
// resource kind: citationBucket holds Name→Citation bindings, draftBucket
// holds drafts, documentBucket holds committed Contracts, typeBucket
// holds self-signed certificate Contracts, and queueBucket holds bag
// messages under <tag>/<version>/{available,processing}/<mtag>/<mversion>
// prefixes.
//
// Create-exclusive semantics for Names and Contracts use a conditional
// PUT (If-None-Match: *); a bucket that ignores the precondition degrades
// to the pre-PUT existence probe, which is racy under concurrent writers
// — the strongest primitive the store offers is used, and the degradation
// is observable (the losing writer overwrites identical immutable bytes
// for Contracts, and last-write-wins for a Name binding race).
type S3 struct {
	api     *s3.S3
	buckets config.S3
}

// NewS3 builds an S3 backend from bucket configuration, using the default
// AWS credential chain.
func NewS3(cfg config.S3) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "NewS3", map[string]any{"region": cfg.Region}, err)
	}
	return &S3{api: s3.New(sess), buckets: cfg}, nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if ok := errorAs(err, &reqErr); ok {
		return reqErr.StatusCode() == 404
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var reqErr awserr.RequestFailure
	if ok := errorAs(err, &reqErr); ok {
		return reqErr.StatusCode() == 412
	}
	return false
}

// errorAs mirrors errors.As for the awserr interface types, which predate
// the errors package's wrapping conventions.
func errorAs(err error, target *awserr.RequestFailure) bool {
	if rf, ok := err.(awserr.RequestFailure); ok {
		*target = rf
		return true
	}
	return false
}

func (c *S3) head(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *S3) get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (c *S3) put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := c.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mediaType),
	})
	return err
}

// putExclusive issues a conditional PUT so a concurrent writer loses with
// 412 instead of silently overwriting. The pre-probe in the callers keeps
// the common already-exists path off the conditional request entirely.
func (c *S3) putExclusive(ctx context.Context, bucket, key string, data []byte) error {
	req, _ := c.api.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mediaType),
	})
	req.SetContext(ctx)
	req.HTTPRequest.Header.Set("If-None-Match", "*")
	return req.Send()
}

func (c *S3) delete(ctx context.Context, bucket, key string) error {
	_, err := c.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	return err
}

func s3NameKey(name types.Name) string {
	return name.Key() + ".bali"
}

func s3CitationKey(citation types.Citation) string {
	return citation.Key() + ".bali"
}

func s3MessageKey(bag types.Citation, partition string, message types.Citation) string {
	return bag.Key() + "/" + partition + "/" + message.Key() + ".bali"
}

// contractBucket routes a contract by kind: self-signed certificates live
// in typeBucket, everything else in documentBucket.
func (c *S3) contractBucket(contract types.Contract) string {
	if contract.IsSelfSigned() {
		return c.buckets.TypeBucket
	}
	return c.buckets.DocumentBucket
}

func (c *S3) NameExists(ctx context.Context, name types.Name) (bool, error) {
	exists, err := c.head(ctx, c.buckets.CitationBucket, s3NameKey(name))
	if err != nil {
		return false, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "NameExists", map[string]any{"name": name.String()}, err)
	}
	return exists, nil
}

func (c *S3) ReadName(ctx context.Context, name types.Name) (*types.Citation, error) {
	data, err := c.get(ctx, c.buckets.CitationBucket, s3NameKey(name))
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReadName", map[string]any{"name": name.String()}, err)
	}
	if data == nil {
		return nil, nil
	}
	citation, err := bali.DecodeCitation(data)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReadName", map[string]any{"name": name.String()}, err)
	}
	return &citation, nil
}

func (c *S3) WriteName(ctx context.Context, name types.Name, citation types.Citation) (types.Citation, error) {
	exists, err := c.NameExists(ctx, name)
	if err != nil {
		return types.Citation{}, err
	}
	if exists {
		return types.Citation{}, repoerr.New(repoerr.NameExists, "storage.s3", "WriteName", map[string]any{"name": name.String()})
	}
	if err := c.putExclusive(ctx, c.buckets.CitationBucket, s3NameKey(name), bali.EncodeCitation(citation)); err != nil {
		if isPreconditionFailed(err) {
			return types.Citation{}, repoerr.New(repoerr.NameExists, "storage.s3", "WriteName", map[string]any{"name": name.String()})
		}
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "WriteName", map[string]any{"name": name.String()}, err)
	}
	return citation, nil
}

func (c *S3) DocumentExists(ctx context.Context, citation types.Citation) (bool, error) {
	exists, err := c.head(ctx, c.buckets.DraftBucket, s3CitationKey(citation))
	if err != nil {
		return false, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "DocumentExists", map[string]any{"tag": citation.Tag.String()}, err)
	}
	return exists, nil
}

func (c *S3) ReadDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	data, err := c.get(ctx, c.buckets.DraftBucket, s3CitationKey(citation))
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReadDocument", nil, err)
	}
	if data == nil {
		return nil, nil
	}
	doc, err := bali.DecodeDocument(data)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReadDocument", nil, err)
	}
	return &doc, nil
}

func (c *S3) WriteDocument(ctx context.Context, document types.Document) (types.Citation, error) {
	citation, err := notary.CiteDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "WriteDocument", nil, err)
	}
	committed, err := c.ContractExists(ctx, citation)
	if err != nil {
		return types.Citation{}, err
	}
	if committed {
		return types.Citation{}, repoerr.New(repoerr.DocumentExists, "storage.s3", "WriteDocument", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
	}
	data, err := bali.EncodeDocument(document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "WriteDocument", nil, err)
	}
	if err := c.put(ctx, c.buckets.DraftBucket, s3CitationKey(citation), data); err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "WriteDocument", nil, err)
	}
	return citation, nil
}

func (c *S3) DeleteDocument(ctx context.Context, citation types.Citation) (*types.Document, error) {
	prior, err := c.ReadDocument(ctx, citation)
	if err != nil || prior == nil {
		return prior, err
	}
	if err := c.delete(ctx, c.buckets.DraftBucket, s3CitationKey(citation)); err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "DeleteDocument", nil, err)
	}
	return prior, nil
}

func (c *S3) ContractExists(ctx context.Context, citation types.Citation) (bool, error) {
	for _, bucket := range []string{c.buckets.DocumentBucket, c.buckets.TypeBucket} {
		exists, err := c.head(ctx, bucket, s3CitationKey(citation))
		if err != nil {
			return false, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ContractExists", nil, err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func (c *S3) ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error) {
	for _, bucket := range []string{c.buckets.DocumentBucket, c.buckets.TypeBucket} {
		data, err := c.get(ctx, bucket, s3CitationKey(citation))
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReadContract", nil, err)
		}
		if data == nil {
			continue
		}
		contract, err := bali.DecodeContract(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReadContract", nil, err)
		}
		return &contract, nil
	}
	return nil, nil
}

func (c *S3) WriteContract(ctx context.Context, contract types.Contract) (types.Citation, error) {
	citation, err := notary.CiteDocument(contract.Document)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "WriteContract", nil, err)
	}
	exists, err := c.ContractExists(ctx, citation)
	if err != nil {
		return types.Citation{}, err
	}
	if exists {
		return types.Citation{}, repoerr.New(repoerr.ContractExists, "storage.s3", "WriteContract", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
	}
	data, err := bali.EncodeContract(contract)
	if err != nil {
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "WriteContract", nil, err)
	}
	if err := c.putExclusive(ctx, c.contractBucket(contract), s3CitationKey(citation), data); err != nil {
		if isPreconditionFailed(err) {
			return types.Citation{}, repoerr.New(repoerr.ContractExists, "storage.s3", "WriteContract", map[string]any{"tag": citation.Tag.String()})
		}
		return types.Citation{}, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "WriteContract", nil, err)
	}
	// Commit deletes any draft at the same (tag, version). Cross-bucket
	// atomicity is not something S3 offers; this cleanup is best-effort
	// eventual consistency, never a failed commit.
	if err := c.delete(ctx, c.buckets.DraftBucket, s3CitationKey(citation)); err != nil {
		logger := log.WithComponent("storage.s3")
		logger.Warn().Str("tag", citation.Tag.String()).Err(err).Msg("failed to remove draft after commit")
	}
	return citation, nil
}

// listMessages returns the object keys under a bag's partition prefix.
func (c *S3) listMessages(ctx context.Context, bag types.Citation, partition string) ([]string, error) {
	prefix := bag.Key() + "/" + partition + "/"
	var keys []string
	err := c.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.buckets.QueueBucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *S3) MessageAvailable(ctx context.Context, bag types.Citation) (bool, error) {
	keys, err := c.listMessages(ctx, bag, "available")
	if err != nil {
		return false, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "MessageAvailable", nil, err)
	}
	return len(keys) > 0, nil
}

func (c *S3) MessageCount(ctx context.Context, bag types.Citation) (int, error) {
	keys, err := c.listMessages(ctx, bag, "available")
	if err != nil {
		return 0, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "MessageCount", nil, err)
	}
	return len(keys), nil
}

func (c *S3) AddMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	capacity, err := bagCapacity(ctx, c, "storage.s3", bag)
	if err != nil {
		return err
	}
	count, err := c.MessageCount(ctx, bag)
	if err != nil {
		return err
	}
	processing, err := c.listMessages(ctx, bag, "processing")
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "AddMessage", nil, err)
	}
	count += len(processing)
	if count >= capacity {
		return repoerr.New(repoerr.BagFull, "storage.s3", "AddMessage", map[string]any{"bag": bag.Key(), "capacity": capacity})
	}
	msgCitation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "AddMessage", nil, err)
	}
	for _, partition := range []string{"available", "processing"} {
		exists, err := c.head(ctx, c.buckets.QueueBucket, s3MessageKey(bag, partition, msgCitation))
		if err != nil {
			return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "AddMessage", nil, err)
		}
		if exists {
			return repoerr.New(repoerr.MessageExists, "storage.s3", "AddMessage", map[string]any{"tag": msgCitation.Tag.String(), "version": msgCitation.Version.String()})
		}
	}
	data, err := bali.EncodeMessage(message)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "AddMessage", nil, err)
	}
	if err := c.put(ctx, c.buckets.QueueBucket, s3MessageKey(bag, "available", msgCitation), data); err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "AddMessage", nil, err)
	}
	return nil
}

// RemoveMessage follows the same claim shape as LocalFS: list, pick at
// random, read, delete from available, write into processing. S3's
// DeleteObject succeeds whether or not the key still exists, so the
// lost-race signal here is the read coming back absent, not the delete —
// a concurrent claimant that deleted the key between our list and our
// read makes us retry.
func (c *S3) RemoveMessage(ctx context.Context, bag types.Citation) (*types.Message, error) {
	for {
		keys, err := c.listMessages(ctx, bag, "available")
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "RemoveMessage", nil, err)
		}
		if len(keys) == 0 {
			return nil, nil
		}
		key := keys[rand.Intn(len(keys))]

		data, err := c.get(ctx, c.buckets.QueueBucket, key)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "RemoveMessage", nil, err)
		}
		if data == nil {
			metrics.BagClaimRacesTotal.WithLabelValues(bag.Key()).Inc()
			continue // another claimant already took it; retry
		}
		if err := c.delete(ctx, c.buckets.QueueBucket, key); err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "RemoveMessage", nil, err)
		}

		msg, err := bali.DecodeMessage(data)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "RemoveMessage", nil, err)
		}
		processingKey := strings.Replace(key, "/available/", "/processing/", 1)
		if err := c.put(ctx, c.buckets.QueueBucket, processingKey, data); err != nil {
			return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "RemoveMessage", nil, err)
		}
		return &msg, nil
	}
}

func (c *S3) ReturnMessage(ctx context.Context, bag types.Citation, message types.Message) error {
	msgCitation, err := notary.CiteDocument(message.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReturnMessage", nil, err)
	}
	key := s3MessageKey(bag, "processing", msgCitation)
	exists, err := c.head(ctx, c.buckets.QueueBucket, key)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReturnMessage", nil, err)
	}
	if !exists {
		return repoerr.New(repoerr.LeaseExpired, "storage.s3", "ReturnMessage", map[string]any{"tag": msgCitation.Tag.String(), "version": msgCitation.Version.String()})
	}
	if err := c.delete(ctx, c.buckets.QueueBucket, key); err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReturnMessage", nil, err)
	}

	nextVersion, err := message.Document.Parameters.Version.NextVersion(0)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReturnMessage", nil, err)
	}
	bumped := message
	bumped.Document.Parameters = bumped.Document.Parameters.Clone()
	bumped.Document.Parameters.Version = nextVersion
	newCitation, err := notary.CiteDocument(bumped.Document)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReturnMessage", nil, err)
	}
	data, err := bali.EncodeMessage(bumped)
	if err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReturnMessage", nil, err)
	}
	if err := c.put(ctx, c.buckets.QueueBucket, s3MessageKey(bag, "available", newCitation), data); err != nil {
		return repoerr.Wrap(repoerr.Unexpected, "storage.s3", "ReturnMessage", nil, err)
	}
	return nil
}

func (c *S3) DeleteMessage(ctx context.Context, bag types.Citation, citation types.Citation) (*types.Message, error) {
	key := s3MessageKey(bag, "processing", citation)
	data, err := c.get(ctx, c.buckets.QueueBucket, key)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "DeleteMessage", nil, err)
	}
	if data == nil {
		return nil, repoerr.New(repoerr.LeaseExpired, "storage.s3", "DeleteMessage", map[string]any{"tag": citation.Tag.String(), "version": citation.Version.String()})
	}
	if err := c.delete(ctx, c.buckets.QueueBucket, key); err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "DeleteMessage", nil, err)
	}
	msg, err := bali.DecodeMessage(data)
	if err != nil {
		return nil, repoerr.Wrap(repoerr.Unexpected, "storage.s3", "DeleteMessage", nil, err)
	}
	return &msg, nil
}
