package uploads

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dmitrijs2005/imagingdesk/internal/common"
	"github.com/dmitrijs2005/imagingdesk/internal/server/models"
	"github.com/dmitrijs2005/imagingdesk/internal/server/objectkey"
)

// FileKeyIndex is the global secondary index on file_key the resolver queries.
const FileKeyIndex = "file_key-index"

// DynamoAPI is the subset of *dynamodb.Client the repository uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// dynamoItem is the on-table shape of an upload. Timestamps are RFC 3339
// strings; one that fails to parse is treated as missing.
type dynamoItem struct {
	ID           string  `dynamodbav:"id"`
	Seq          int64   `dynamodbav:"seq"`
	UserID       string  `dynamodbav:"user_id"`
	FileKey      string  `dynamodbav:"file_key"`
	FileName     string  `dynamodbav:"file_name"`
	BucketName   *string `dynamodbav:"bucket_name,omitempty"`
	DisplayName  string  `dynamodbav:"display_name"`
	ContentType  string  `dynamodbav:"content_type"`
	UploadStatus string  `dynamodbav:"upload_status"`
	CreatedAt    string  `dynamodbav:"created_at"`
	UploadedAt   string  `dynamodbav:"uploaded_at,omitempty"`
}

// now is a seam for tests.
var now = time.Now

// DynamoRepository implements the storage index over a DynamoDB table keyed
// by id, with a global secondary index on file_key.
type DynamoRepository struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoRepository initializes a new DynamoRepository.
func NewDynamoRepository(client DynamoAPI, tableName string) *DynamoRepository {
	return &DynamoRepository{
		client:    client,
		tableName: tableName,
	}
}

// Create stores a new upload. DynamoDB has no sequences, so Seq is the
// creation time in nanoseconds.
func (r *DynamoRepository) Create(ctx context.Context, upload *models.Upload) error {
	t := now().UTC()
	upload.CreatedAt = t
	upload.Seq = t.UnixNano()

	item, err := attributevalue.MarshalMap(toItem(upload))
	if err != nil {
		return fmt.Errorf("failed to marshal upload: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}
	if _, err := r.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	return nil
}

// GetByID returns a single upload or common.ErrorNotFound.
func (r *DynamoRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	}

	result, err := r.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	if result.Item == nil {
		return nil, common.ErrorNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload: %w", err)
	}
	return item.toUpload(), nil
}

// MarkCompleted flips a pending upload to completed. The condition makes the
// transition atomic without a transaction.
func (r *DynamoRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET upload_status = :completed, uploaded_at = :at"),
		ConditionExpression: aws.String("attribute_exists(id) AND upload_status = :pending"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed": &types.AttributeValueMemberS{Value: common.UploadStatusCompleted},
			":pending":   &types.AttributeValueMemberS{Value: common.UploadStatusPending},
			":at":        &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return common.ErrUploadAlreadyCompleted
		}
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	return nil
}

// List scans the table and returns up to limit uploads, newest first.
func (r *DynamoRepository) List(ctx context.Context, ownerID *string, limit int) ([]*models.Upload, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	}
	if ownerID != nil {
		input.FilterExpression = aws.String("user_id = :owner")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: *ownerID},
		}
	}

	var result []*models.Upload
	p := dynamodb.NewScanPaginator(r.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan uploads: %w", err)
		}
		for _, raw := range page.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal upload: %w", err)
			}
			result = append(result, item.toUpload())
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Seq > result[j].Seq })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// findWorkers bounds the number of file key index queries in flight.
const findWorkers = 8

// FindByKeys queries the file key index once per distinct key, with at most
// findWorkers queries running at a time. Records come back grouped by key in
// the order keys first appear.
func (r *DynamoRepository) FindByKeys(ctx context.Context, keys []string, ownerID *string) ([]models.IndexRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	filter := "upload_status = :completed"
	values := map[string]types.AttributeValue{
		":completed": &types.AttributeValueMemberS{Value: common.UploadStatusCompleted},
	}
	if ownerID != nil {
		filter += " AND user_id = :owner"
		values[":owner"] = &types.AttributeValueMemberS{Value: *ownerID}
	}

	var distinct []string
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, key)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		perKey   = make([][]models.IndexRecord, len(distinct))
		jobs     = make(chan int)
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	workers := min(findWorkers, len(distinct))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				recs, err := r.queryKey(ctx, distinct[i], filter, values)
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					continue
				}
				perKey[i] = recs
			}
		}()
	}

feed:
	for i := range distinct {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to query index records: %w", err)
	}

	var result []models.IndexRecord
	for _, recs := range perKey {
		result = append(result, recs...)
	}
	return result, nil
}

func (r *DynamoRepository) queryKey(ctx context.Context, key, filter string, values map[string]types.AttributeValue) ([]models.IndexRecord, error) {
	kv := make(map[string]types.AttributeValue, len(values)+1)
	for k, v := range values {
		kv[k] = v
	}
	kv[":key"] = &types.AttributeValueMemberS{Value: key}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(FileKeyIndex),
		KeyConditionExpression:    aws.String("file_key = :key"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeValues: kv,
	}

	var result []models.IndexRecord
	p := dynamodb.NewQueryPaginator(r.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query index records: %w", err)
		}
		for _, raw := range page.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal index record: %w", err)
			}
			result = append(result, item.toIndexRecord())
		}
	}
	return result, nil
}

func toItem(u *models.Upload) dynamoItem {
	item := dynamoItem{
		ID:           u.ID,
		Seq:          u.Seq,
		UserID:       u.UserID,
		FileKey:      u.FileKey,
		FileName:     u.FileName,
		BucketName:   u.BucketName,
		DisplayName:  u.DisplayName,
		ContentType:  u.ContentType,
		UploadStatus: u.UploadStatus,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if u.UploadedAt != nil {
		item.UploadedAt = u.UploadedAt.UTC().Format(time.RFC3339Nano)
	}
	return item
}

func (i dynamoItem) toUpload() *models.Upload {
	u := &models.Upload{
		ID:           i.ID,
		Seq:          i.Seq,
		UserID:       i.UserID,
		FileKey:      i.FileKey,
		FileName:     i.FileName,
		BucketName:   i.BucketName,
		DisplayName:  i.DisplayName,
		ContentType:  i.ContentType,
		UploadStatus: i.UploadStatus,
		UploadedAt:   parseTime(i.UploadedAt),
	}
	if t := parseTime(i.CreatedAt); t != nil {
		u.CreatedAt = *t
	}
	return u
}

func (i dynamoItem) toIndexRecord() models.IndexRecord {
	rec := models.IndexRecord{
		FileKey:     i.FileKey,
		StorageKey:  objectkey.Build(objectkey.Row{FileName: i.FileName, BucketPrefix: i.BucketName}),
		DisplayName: i.DisplayName,
		OwnerID:     i.UserID,
		UploadedAt:  parseTime(i.UploadedAt),
		Seq:         i.Seq,
	}
	if rec.DisplayName == "" {
		rec.DisplayName = objectkey.BaseName(i.FileName)
	}
	return rec
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
