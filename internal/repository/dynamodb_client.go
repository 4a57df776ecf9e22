package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"search-agent/internal/domain"
)

const (
	pkPrefixSession = "SESSION#"
	skState         = "STATE"
	skPrefixAnswer  = "ANSWER#"

	// DynamoDB request limits.
	maxTransactItems = 100
	maxBatchWrite    = 25
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client stores sessions in a DynamoDB table. Each identity has one STATE
// item holding the conversation window and the version, plus one ANSWER#
// item per answer record:
//
//	PK=SESSION#<identity>  SK=STATE
//	PK=SESSION#<identity>  SK=ANSWER#<epoch>#<seq>
//
// Clearing the answer log starts a new epoch; records of older epochs are
// no longer read and are deleted after the clearing write commits.
type Client struct {
	api       dynamodbAPI
	tableName string
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for background cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// sessionState is the decoded STATE item.
type sessionState struct {
	conversation []domain.Message
	version      int64
	answerEpoch  int64
	answerCount  int64
}

// sessionPK returns the DynamoDB partition key for an identity.
func sessionPK(id domain.Identity) string {
	return pkPrefixSession + string(id)
}

// answerSK returns the sort key of the seq-th answer in an epoch. Both
// numbers are zero padded so keys sort in append order.
func answerSK(epoch, seq int64) string {
	return fmt.Sprintf("%s%010d#%010d", skPrefixAnswer, epoch, seq)
}

func answerPrefix(epoch int64) string {
	return fmt.Sprintf("%s%010d#", skPrefixAnswer, epoch)
}

func (c *Client) stateKey(id domain.Identity) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// Get loads the session for id, creating and persisting an empty one on
// first access. An existing session is never overwritten.
func (c *Client) Get(ctx context.Context, id domain.Identity) (domain.Session, error) {
	if err := validIdentity(id); err != nil {
		return domain.Session{}, err
	}

	st, found, err := c.loadState(ctx, id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get: %w", err)
	}
	if !found {
		if st, err = c.createState(ctx, id); err != nil {
			return domain.Session{}, err
		}
	}

	answers, err := c.loadAnswers(ctx, id, st.answerEpoch)
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Get: %w", err)
	}
	if int64(len(answers)) != st.answerCount {
		return domain.Session{}, fmt.Errorf("repository: Get: found %d answer records, state expects %d", len(answers), st.answerCount)
	}
	return domain.Session{
		Conversation: st.conversation,
		Answers:      answers,
		Version:      st.version,
	}, nil
}

func (c *Client) createState(ctx context.Context, id domain.Identity) (sessionState, error) {
	empty := sessionState{conversation: []domain.Message{}}
	item, err := c.stateItem(id, empty)
	if err != nil {
		return sessionState{}, fmt.Errorf("repository: Get: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return empty, nil
	}
	if !isConditionalCheckFailed(err) {
		return sessionState{}, fmt.Errorf("repository: Get create: %w", err)
	}
	// Another writer created it first; read theirs.
	st, found, err := c.loadState(ctx, id)
	if err != nil {
		return sessionState{}, fmt.Errorf("repository: Get: %w", err)
	}
	if !found {
		return sessionState{}, errors.New("repository: Get: session vanished after create conflict")
	}
	return st, nil
}

// Put saves s if the stored version still matches s.Version, and bumps the
// version. Stored answer records are immutable: records past the stored
// count are added, and a shorter log than the stored one replaces it under
// a new epoch. The new records and the STATE item are written in one
// transaction.
func (c *Client) Put(ctx context.Context, id domain.Identity, s domain.Session) error {
	if err := validIdentity(id); err != nil {
		return err
	}

	st, found, err := c.loadState(ctx, id)
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	if !found || st.version != s.Version {
		return fmt.Errorf("repository: Put: %w", ErrVersionConflict)
	}

	next := sessionState{
		conversation: s.Conversation,
		version:      s.Version + 1,
		answerEpoch:  st.answerEpoch,
		answerCount:  int64(len(s.Answers)),
	}
	fresh := s.Answers
	if next.answerCount >= st.answerCount {
		fresh = s.Answers[st.answerCount:]
	} else {
		next.answerEpoch++
	}
	if len(fresh)+1 > maxTransactItems {
		return fmt.Errorf("repository: Put: %d new answer records exceed one transaction", len(fresh))
	}

	tx := make([]types.TransactWriteItem, 0, len(fresh)+1)
	first := next.answerCount - int64(len(fresh))
	for i, r := range fresh {
		item, err := answerItem(id, next.answerEpoch, first+int64(i), r)
		if err != nil {
			return fmt.Errorf("repository: Put: %w", err)
		}
		tx = append(tx, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}
	state, err := c.stateItem(id, next)
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	tx = append(tx, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                state,
			ConditionExpression: aws.String("attribute_exists(PK) AND version = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.Version, 10)},
			},
		},
	})

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx})
	if err != nil {
		if isTransactionConditionFailed(err) {
			return fmt.Errorf("repository: Put: %w", ErrVersionConflict)
		}
		return fmt.Errorf("repository: Put: %w", err)
	}

	if next.answerEpoch != st.answerEpoch && st.answerCount > 0 {
		c.purgeAnswers(ctx, id, st.answerEpoch)
	}
	return nil
}

func (c *Client) loadState(ctx context.Context, id domain.Identity) (sessionState, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.stateKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return sessionState{}, false, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return sessionState{}, false, nil
	}
	st, err := itemToState(out.Item)
	if err != nil {
		return sessionState{}, false, fmt.Errorf("decode session: %w", err)
	}
	return st, true, nil
}

// loadAnswers queries every answer item of an epoch in append order.
func (c *Client) loadAnswers(ctx context.Context, id domain.Identity, epoch int64) ([]domain.AnswerRecord, error) {
	records := []domain.AnswerRecord{}
	err := c.queryAnswers(ctx, id, epoch, nil, func(item map[string]types.AttributeValue) error {
		raw, err := strAttr(item, "record")
		if err != nil {
			return err
		}
		r, err := decodeAnswer(raw)
		if err != nil {
			return err
		}
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// queryAnswers pages through the answer items of an epoch.
func (c *Client) queryAnswers(ctx context.Context, id domain.Identity, epoch int64, projection *string, fn func(map[string]types.AttributeValue) error) error {
	var start map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(id)},
				":prefix": &types.AttributeValueMemberS{Value: answerPrefix(epoch)},
			},
			ProjectionExpression: projection,
			ConsistentRead:       aws.Bool(true),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return fmt.Errorf("query answers: %w", err)
		}
		if out == nil {
			return nil
		}
		for _, item := range out.Items {
			if err := fn(item); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		start = out.LastEvaluatedKey
	}
}

// purgeAnswers deletes the answer items of a retired epoch. Failures are
// logged, not returned.
func (c *Client) purgeAnswers(ctx context.Context, id domain.Identity, epoch int64) {
	var keys []map[string]types.AttributeValue
	err := c.queryAnswers(ctx, id, epoch, aws.String("PK, SK"), func(item map[string]types.AttributeValue) error {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
		return nil
	})
	if err != nil {
		c.logger.WarnContext(ctx, "answer purge failed", "identity", string(id), "epoch", epoch, "err", err)
		return
	}

	for len(keys) > 0 {
		n := min(len(keys), maxBatchWrite)
		reqs := make([]types.WriteRequest, 0, n)
		for _, k := range keys[:n] {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
		}
		keys = keys[n:]

		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.tableName: reqs},
		})
		if err != nil {
			c.logger.WarnContext(ctx, "answer purge failed", "identity", string(id), "epoch", epoch, "err", err)
			return
		}
		if out != nil {
			if left := len(out.UnprocessedItems[c.tableName]); left > 0 {
				c.logger.WarnContext(ctx, "answer purge incomplete", "identity", string(id), "epoch", epoch, "unprocessed", left)
			}
		}
	}
}

func (c *Client) stateItem(id domain.Identity, st sessionState) (map[string]types.AttributeValue, error) {
	conversation, err := encodeMessages(st.conversation)
	if err != nil {
		return nil, err
	}
	item := c.stateKey(id)
	item["identity"] = &types.AttributeValueMemberS{Value: string(id)}
	item["conversation"] = &types.AttributeValueMemberS{Value: conversation}
	item["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(st.version, 10)}
	item["answerEpoch"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(st.answerEpoch, 10)}
	item["answerCount"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(st.answerCount, 10)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)}
	return item, nil
}

func answerItem(id domain.Identity, epoch, seq int64, r domain.AnswerRecord) (map[string]types.AttributeValue, error) {
	record, err := encodeAnswer(r)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK":     &types.AttributeValueMemberS{Value: answerSK(epoch, seq)},
		"record": &types.AttributeValueMemberS{Value: record},
	}, nil
}

// itemToState converts a STATE attribute map to a sessionState.
func itemToState(item map[string]types.AttributeValue) (sessionState, error) {
	raw, err := strAttr(item, "conversation")
	if err != nil {
		return sessionState{}, err
	}
	conversation, err := decodeMessages(raw)
	if err != nil {
		return sessionState{}, err
	}
	st := sessionState{conversation: conversation}
	if st.version, err = intAttr(item, "version"); err != nil {
		return sessionState{}, err
	}
	if st.answerEpoch, err = intAttr(item, "answerEpoch"); err != nil {
		return sessionState{}, err
	}
	if st.answerCount, err = intAttr(item, "answerCount"); err != nil {
		return sessionState{}, err
	}
	return st, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func isTransactionConditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
